package control

import (
	"fmt"
	"sync/atomic"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/permission"
	"github.com/dkeye/RemoteDesk/internal/transfer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ClientHandlers receive host-pushed state. All fields are optional.
type ClientHandlers struct {
	Clipboard ClipboardAccess

	OnPermissionsChange func(permission.Set)
	OnPermissionDenied  func(permission.Name)
	OnFileReceive       func(transfer.Event)
	OnWhiteboardData    func(Whiteboard)
	OnSystemInfo        func(map[string]any)
	OnPrivacyModeChange func(bool)
	OnChatMessage       func(text string, isRemote bool)
}

// ClientEngine mirrors the host's permissions for UX only; the host re-checks everything.
type ClientEngine struct {
	out     Outbound
	cache   *permission.Cache
	asm     *transfer.Assembler
	h       ClientHandlers
	privacy atomic.Bool
	log     zerolog.Logger
}

func NewClientEngine(out Outbound, h ClientHandlers, opts transfer.Options) *ClientEngine {
	e := &ClientEngine{
		out:   out,
		cache: permission.NewCache(),
		h:     h,
		log:   log.With().Str("module", "control.client").Logger(),
	}
	e.asm = transfer.NewAssembler(func(ev transfer.Event) {
		if fn := e.h.OnFileReceive; fn != nil {
			fn(ev)
		}
	}, opts)
	return e
}

func (e *ClientEngine) Permissions() permission.Set { return e.cache.Snapshot() }
func (e *ClientEngine) PrivacyMode() bool           { return e.privacy.Load() }

func (e *ClientEngine) HandleMessage(label string, raw []byte) {
	m, ok := decodeInbound(&e.log, label, raw)
	if !ok {
		return
	}
	switch msg := m.(type) {
	case Permissions:
		e.replacePermissions(msg.Permissions)
	case PermissionsUpdate:
		e.replacePermissions(msg.Permissions)
	case PermissionDenied:
		e.log.Info().Str("permission", string(msg.Permission)).Msg("host denied")
		if fn := e.h.OnPermissionDenied; fn != nil {
			fn(msg.Permission)
		}
	case Clipboard:
		e.onClipboard(msg)
	case File:
		e.onFile(msg)
	case Whiteboard:
		if !e.cache.Has(permission.Whiteboard) {
			e.log.Debug().Msg("whiteboard data without permission dropped")
			return
		}
		if fn := e.h.OnWhiteboardData; fn != nil {
			fn(msg)
		}
	case SystemInfo:
		if fn := e.h.OnSystemInfo; fn != nil {
			fn(msg.Info)
		}
	case PrivacyMode:
		e.privacy.Store(msg.Enabled)
		if fn := e.h.OnPrivacyModeChange; fn != nil {
			fn(msg.Enabled)
		}
	case Chat:
		if fn := e.h.OnChatMessage; fn != nil {
			fn(msg.Text, true)
		}
	default:
		e.log.Debug().Str("type", string(m.MessageType())).Msg("no client handler")
	}
}

func (e *ClientEngine) replacePermissions(s permission.Set) {
	e.cache.Replace(s)
	if fn := e.h.OnPermissionsChange; fn != nil {
		fn(s)
	}
}

func (e *ClientEngine) onClipboard(c Clipboard) {
	if c.Action != "update" {
		return
	}
	if !e.cache.Has(permission.Clipboard) {
		e.log.Debug().Msg("clipboard update without permission dropped")
		return
	}
	if e.h.Clipboard == nil {
		return
	}
	if err := e.h.Clipboard.WriteText(c.Text); err != nil {
		e.log.Warn().Err(err).Msg("write local clipboard")
	}
}

func (e *ClientEngine) onFile(f File) {
	if !e.cache.Has(permission.FileTransfer) {
		e.log.Debug().Str("name", f.Name).Msg("file message without permission dropped")
		return
	}
	var err error
	switch f.Action {
	case "info":
		err = e.asm.Open(transfer.Info{Name: f.Name, Size: f.Size, MimeType: f.MimeType, Checksum: f.Checksum})
	case "data":
		if f.Seq != nil {
			err = e.asm.OnSequencedData(f.Name, *f.Seq, f.Data)
		} else {
			err = e.asm.OnData(f.Name, f.Data)
		}
	default:
		return
	}
	if err != nil {
		e.log.Warn().Err(err).Str("name", f.Name).Str("action", f.Action).Msg("file message")
	}
}

// Teardown resets everything derived from the link.
func (e *ClientEngine) Teardown() {
	e.cache.Reset()
	e.privacy.Store(false)
	e.asm.AbortAll(domain.ErrLinkClosed)
	if fn := e.h.OnPermissionsChange; fn != nil {
		fn(permission.Set{})
	}
}

// inputAllowed drops raw input that the host would refuse anyway.
func (e *ClientEngine) inputAllowed(p permission.Name) error {
	if e.privacy.Load() {
		return fmt.Errorf("%w: privacy mode", ErrNotPermitted)
	}
	if !e.cache.Has(p) {
		return fmt.Errorf("%w: %s", ErrNotPermitted, p)
	}
	return nil
}

// requestInstead sends a permission_request when p is not cached as granted.
func (e *ClientEngine) requestInstead(p permission.Name) error {
	if e.cache.Has(p) {
		return nil
	}
	if err := e.RequestPermission(p); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s requested", ErrNotPermitted, p)
}

func (e *ClientEngine) SendMouse(m Mouse) error {
	if err := e.inputAllowed(permission.Mouse); err != nil {
		return err
	}
	return send(e.out, m)
}

// SendKeyboard drops plain keys while not permitted; special combinations ask for permission instead.
func (e *ClientEngine) SendKeyboard(k Keyboard) error {
	if k.Action == "special" && !e.privacy.Load() {
		if err := e.requestInstead(permission.Keyboard); err != nil {
			return err
		}
		return send(e.out, k)
	}
	if err := e.inputAllowed(permission.Keyboard); err != nil {
		return err
	}
	return send(e.out, k)
}

func (e *ClientEngine) RequestClipboard() error {
	if err := e.requestInstead(permission.Clipboard); err != nil {
		return err
	}
	return send(e.out, Clipboard{Action: "get"})
}

func (e *ClientEngine) SetRemoteClipboard(text string) error {
	if err := e.requestInstead(permission.Clipboard); err != nil {
		return err
	}
	return send(e.out, Clipboard{Action: "set", Text: text})
}

// RequestFile asks the host to stream name over the file channel.
func (e *ClientEngine) RequestFile(name string) error {
	if err := e.requestInstead(permission.FileTransfer); err != nil {
		return err
	}
	return send(e.out, File{Action: "transfer", Name: name})
}

func (e *ClientEngine) RequestSystemInfo() error {
	if err := e.requestInstead(permission.SystemInfo); err != nil {
		return err
	}
	return send(e.out, System{Action: "get"})
}

func (e *ClientEngine) RequestRestart() error {
	if err := e.requestInstead(permission.Restart); err != nil {
		return err
	}
	return send(e.out, Restart{Action: "request"})
}

func (e *ClientEngine) SendWhiteboard(w Whiteboard) error {
	if err := e.requestInstead(permission.Whiteboard); err != nil {
		return err
	}
	return send(e.out, w)
}

func (e *ClientEngine) SetQuality(quality string) error {
	return send(e.out, Config{Action: "setQuality", Quality: quality})
}

func (e *ClientEngine) SendChat(text string) error {
	if err := send(e.out, Chat{Action: "message", Text: text, Timestamp: nowMillis()}); err != nil {
		return err
	}
	if fn := e.h.OnChatMessage; fn != nil {
		fn(text, false)
	}
	return nil
}

// RequestPermission does not block and never touches the cache.
func (e *ClientEngine) RequestPermission(p permission.Name) error {
	return send(e.out, PermissionRequest{Permission: p})
}
