package media

import (
	"fmt"
	"net"

	"github.com/pion/rtp"
)

// Source yields RTP packets produced by an external encoder.
type Source interface {
	ReadRTP() (*rtp.Packet, error)
	Close() error
}

// mtu bounds a single datagram from the encoder.
const mtu = 1500

type PacketConnSource struct {
	conn net.PacketConn
	buf  []byte
}

func NewPacketConnSource(conn net.PacketConn) *PacketConnSource {
	return &PacketConnSource{conn: conn, buf: make([]byte, mtu)}
}

// ListenUDP opens the socket the encoder (ffmpeg, gstreamer) sends RTP to.
func ListenUDP(addr string) (*PacketConnSource, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen rtp %s: %w", addr, err)
	}
	return NewPacketConnSource(conn), nil
}

func (s *PacketConnSource) Addr() net.Addr { return s.conn.LocalAddr() }

// ReadRTP skips datagrams that are not valid RTP.
func (s *PacketConnSource) ReadRTP() (*rtp.Packet, error) {
	for {
		n, _, err := s.conn.ReadFrom(s.buf)
		if err != nil {
			return nil, err
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(s.buf[:n]); err != nil {
			continue
		}
		return pkt, nil
	}
}

func (s *PacketConnSource) Close() error { return s.conn.Close() }
