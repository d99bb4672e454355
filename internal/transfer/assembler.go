// Package transfer reassembles files from data-channel fragments and splits files into them.
package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrTooLarge         = errors.New("declared size exceeds limit")
	ErrNoTransfer       = errors.New("no open transfer")
)

const DefaultMaxSize = 512 << 20

// Sequenced chunks that overtake their info header on an unordered channel are
// held until the header arrives, within these limits.
const (
	maxOrphanNames = 8
	maxOrphanBytes = 4 << 20
)

type EventKind string

const (
	EventStart    EventKind = "start"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventAborted  EventKind = "aborted"
)

type Event struct {
	Kind     EventKind
	Name     string
	MimeType string
	Received int64
	Total    int64
	// Data is only set on complete.
	Data []byte
	// Verified is true when a declared checksum matched.
	Verified bool
	Err      error
}

type Info struct {
	Name     string
	Size     int64
	MimeType string
	// Checksum is an optional hex SHA-256 of the whole file.
	Checksum string
}

type buffer struct {
	info     Info
	chunks   map[int][]byte
	next     int
	received int64
}

func (b *buffer) put(seq int, chunk []byte) {
	if seq < 0 {
		seq = b.next
	}
	if prev, dup := b.chunks[seq]; dup {
		b.received -= int64(len(prev))
	}
	b.chunks[seq] = append([]byte(nil), chunk...)
	b.received += int64(len(chunk))
	if seq >= b.next {
		b.next = seq + 1
	}
}

func (b *buffer) progress() Event {
	return Event{Kind: EventProgress, Name: b.info.Name, MimeType: b.info.MimeType, Received: b.received, Total: b.info.Size}
}

type Options struct {
	MaxSize int64
}

// Assembler is safe for concurrent use. Events are emitted outside its lock.
type Assembler struct {
	mu      sync.Mutex
	open    map[string]*buffer
	orphans map[string]map[int][]byte
	held    int64
	emit    func(Event)
	maxSize int64
}

func NewAssembler(emit func(Event), opts Options) *Assembler {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &Assembler{
		open:    make(map[string]*buffer),
		orphans: make(map[string]map[int][]byte),
		emit:    emit,
		maxSize: opts.MaxSize,
	}
}

// OnInfo opens a reassembly buffer for name.
func (a *Assembler) OnInfo(name string, size int64, mimeType string) error {
	return a.Open(Info{Name: name, Size: size, MimeType: mimeType})
}

// Open is OnInfo with an optional checksum. A transfer already open under the
// same name is aborted and replaced; the collision is reported to the caller.
func (a *Assembler) Open(info Info) error {
	if info.Size < 0 {
		return fmt.Errorf("%w: negative size", domain.ErrMalformedMessage)
	}
	if info.Size > a.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, info.Size, a.maxSize)
	}
	var events []Event
	var err error

	a.mu.Lock()
	if old, ok := a.open[info.Name]; ok {
		err = fmt.Errorf("%w: %s", domain.ErrTransferCollision, info.Name)
		events = append(events, abortEvent(old, err))
	}
	b := &buffer{info: info, chunks: make(map[int][]byte)}
	a.open[info.Name] = b
	events = append(events, Event{Kind: EventStart, Name: info.Name, MimeType: info.MimeType, Total: info.Size})
	if held, ok := a.orphans[info.Name]; ok {
		delete(a.orphans, info.Name)
		seqs := make([]int, 0, len(held))
		for seq, chunk := range held {
			a.held -= int64(len(chunk))
			seqs = append(seqs, seq)
		}
		sort.Ints(seqs)
		for _, seq := range seqs {
			b.put(seq, held[seq])
			events = append(events, b.progress())
		}
	}
	if b.received >= info.Size {
		done := a.completeLocked(b)
		if done.Err != nil && err == nil {
			err = done.Err
		}
		events = append(events, done)
	}
	a.mu.Unlock()

	a.emitAll(events)
	return err
}

// OnData appends chunk in arrival order. Chunks for unknown names are dropped.
func (a *Assembler) OnData(name string, chunk []byte) error {
	return a.place(name, -1, chunk)
}

// OnSequencedData places chunk at seq. A repeated seq replaces the earlier chunk.
// A chunk that arrives before its info header is held, not dropped.
func (a *Assembler) OnSequencedData(name string, seq int, chunk []byte) error {
	if seq < 0 {
		return fmt.Errorf("%w: negative seq", domain.ErrMalformedMessage)
	}
	return a.place(name, seq, chunk)
}

func (a *Assembler) place(name string, seq int, chunk []byte) error {
	var events []Event
	var err error

	a.mu.Lock()
	b, ok := a.open[name]
	if !ok {
		held := seq >= 0 && a.holdLocked(name, seq, chunk)
		a.mu.Unlock()
		if held {
			log.Debug().Str("module", "transfer").Str("name", name).Int("seq", seq).Msg("chunk held until info")
			return nil
		}
		log.Debug().Str("module", "transfer").Str("name", name).Msg("chunk for unknown transfer dropped")
		return fmt.Errorf("%w: %s", ErrNoTransfer, name)
	}
	b.put(seq, chunk)
	events = append(events, b.progress())
	if b.received >= b.info.Size {
		done := a.completeLocked(b)
		err = done.Err
		events = append(events, done)
	}
	a.mu.Unlock()

	a.emitAll(events)
	return err
}

func (a *Assembler) holdLocked(name string, seq int, chunk []byte) bool {
	held, ok := a.orphans[name]
	if !ok && len(a.orphans) >= maxOrphanNames {
		return false
	}
	prev := int64(len(held[seq]))
	if a.held-prev+int64(len(chunk)) > maxOrphanBytes {
		return false
	}
	if !ok {
		held = make(map[int][]byte)
		a.orphans[name] = held
	}
	held[seq] = append([]byte(nil), chunk...)
	a.held += int64(len(chunk)) - prev
	return true
}

// completeLocked concatenates chunks in seq order and discards the buffer.
func (a *Assembler) completeLocked(b *buffer) Event {
	delete(a.open, b.info.Name)
	seqs := make([]int, 0, len(b.chunks))
	for s := range b.chunks {
		seqs = append(seqs, s)
	}
	sort.Ints(seqs)
	var buf bytes.Buffer
	buf.Grow(int(b.received))
	for _, s := range seqs {
		buf.Write(b.chunks[s])
	}
	ev := Event{
		Kind:     EventComplete,
		Name:     b.info.Name,
		MimeType: b.info.MimeType,
		Received: b.received,
		Total:    b.info.Size,
		Data:     buf.Bytes(),
	}
	if b.info.Checksum != "" {
		sum := sha256.Sum256(ev.Data)
		if strings.EqualFold(hex.EncodeToString(sum[:]), b.info.Checksum) {
			ev.Verified = true
		} else {
			ev.Err = fmt.Errorf("%w: %s", ErrChecksumMismatch, b.info.Name)
		}
	}
	return ev
}

// AbortAll drops every open transfer, e.g. on link teardown.
func (a *Assembler) AbortAll(reason error) {
	a.mu.Lock()
	events := make([]Event, 0, len(a.open))
	for name, b := range a.open {
		events = append(events, abortEvent(b, reason))
		delete(a.open, name)
	}
	clear(a.orphans)
	a.held = 0
	a.mu.Unlock()
	a.emitAll(events)
}

func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}

func (a *Assembler) emitAll(events []Event) {
	for _, ev := range events {
		a.emit(ev)
	}
}

func abortEvent(b *buffer, reason error) Event {
	return Event{
		Kind:     EventAborted,
		Name:     b.info.Name,
		MimeType: b.info.MimeType,
		Received: b.received,
		Total:    b.info.Size,
		Err:      reason,
	}
}
