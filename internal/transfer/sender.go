package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

const DefaultChunkSize = 16 << 10

// Sink receives the messages that make up one transfer.
type Sink interface {
	SendInfo(info Info) error
	SendChunk(name string, seq int, data []byte) error
}

type Sender struct {
	ChunkSize int
}

// Send hashes r, rewinds it and streams it as info followed by sequenced chunks.
func (s Sender) Send(ctx context.Context, name, mimeType string, r io.ReadSeeker, sink Sink) error {
	size := s.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	h := sha256.New()
	total, err := io.Copy(h, r)
	if err != nil {
		return fmt.Errorf("hash %s: %w", name, err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", name, err)
	}

	info := Info{Name: name, Size: total, MimeType: mimeType, Checksum: hex.EncodeToString(h.Sum(nil))}
	if err := sink.SendInfo(info); err != nil {
		return err
	}

	buf := make([]byte, size)
	for seq := 0; ; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if serr := sink.SendChunk(name, seq, buf[:n]); serr != nil {
				return serr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
	}
}
