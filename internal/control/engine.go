package control

import (
	"errors"
	"time"

	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/dkeye/RemoteDesk/internal/transfer"
	"github.com/rs/zerolog"
)

// ErrNotPermitted is returned by client-side senders that were suppressed by the cached permissions.
var ErrNotPermitted = errors.New("not permitted")

// Outbound is the established peer link as seen by an engine.
type Outbound interface {
	Send(label string, data []byte) error
}

// channelsFor lists where a message type may legitimately arrive.
func channelsFor(t Type) []string {
	switch t {
	case TypeChat:
		return []string{link.ChannelChat, link.ChannelControl}
	case TypeFile:
		return []string{link.ChannelFile, link.ChannelControl}
	}
	return []string{link.ChannelControl}
}

func acceptedOn(t Type, label string) bool {
	for _, l := range channelsFor(t) {
		if l == label {
			return true
		}
	}
	return false
}

// labelFor picks the channel an outbound message is sent on.
func labelFor(t Type) string {
	return channelsFor(t)[0]
}

func send(out Outbound, m Message) error {
	raw, err := Encode(m)
	if err != nil {
		return err
	}
	return out.Send(labelFor(m.MessageType()), raw)
}

// decodeInbound applies the shared drop policy: malformed is logged, unknown is silent.
func decodeInbound(logger *zerolog.Logger, label string, raw []byte) (Message, bool) {
	m, err := Decode(raw)
	if errors.Is(err, ErrUnknownType) {
		logger.Debug().Err(err).Str("channel", label).Msg("ignoring unknown message")
		return nil, false
	}
	if err != nil {
		logger.Warn().Err(err).Str("channel", label).Msg("dropping malformed message")
		return nil, false
	}
	if !acceptedOn(m.MessageType(), label) {
		logger.Warn().Str("type", string(m.MessageType())).Str("channel", label).Msg("message on unexpected channel")
		return nil, false
	}
	return m, true
}

// fileSink adapts the outbound link to transfer.Sender.
type fileSink struct{ out Outbound }

func (s fileSink) SendInfo(info transfer.Info) error {
	return send(s.out, File{Action: "info", Name: info.Name, Size: info.Size, MimeType: info.MimeType, Checksum: info.Checksum})
}

func (s fileSink) SendChunk(name string, seq int, data []byte) error {
	return send(s.out, File{Action: "data", Name: name, Seq: &seq, Data: data})
}

func nowMillis() int64 { return time.Now().UnixMilli() }
