package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/RemoteDesk/internal/permission"
	"github.com/dkeye/RemoteDesk/internal/transfer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InputInjector synthesizes OS input on the host.
type InputInjector interface {
	InjectMouse(Mouse) error
	InjectKeyboard(Keyboard) error
}

type ClipboardAccess interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// FileSource opens files a client may pull from the host.
type FileSource interface {
	Open(name string) (r io.ReadSeekCloser, mimeType string, err error)
}

type SystemInspector interface {
	Info() (map[string]any, error)
}

type Restarter interface {
	Restart() error
}

// HostHandlers are the collaborators a host engine hands permitted actions to.
// Nil collaborators make the corresponding action a logged no-op.
type HostHandlers struct {
	Input     InputInjector
	Clipboard ClipboardAccess
	Files     FileSource
	System    SystemInspector
	Restarter Restarter

	OnChat              func(msg Chat, isRemote bool)
	OnWhiteboard        func(Whiteboard)
	OnConfig            func(Config)
	OnPermissionRequest func(permission.Name)
	OnPermissionDenied  func(permission.Name, Type)
}

type hostRoute struct {
	// gate is empty for ungated types
	gate   permission.Name
	handle func(e *HostEngine, m Message) error
}

var hostRoutes = map[Type]hostRoute{
	TypeMouse:             {permission.Mouse, (*HostEngine).onMouse},
	TypeKeyboard:          {permission.Keyboard, (*HostEngine).onKeyboard},
	TypeClipboard:         {permission.Clipboard, (*HostEngine).onClipboard},
	TypeFile:              {permission.FileTransfer, (*HostEngine).onFile},
	TypeWhiteboard:        {permission.Whiteboard, (*HostEngine).onWhiteboard},
	TypeSystem:            {permission.SystemInfo, (*HostEngine).onSystem},
	TypeRestart:           {permission.Restart, (*HostEngine).onRestart},
	TypePermissionRequest: {"", (*HostEngine).onPermissionRequest},
	TypeChat:              {"", (*HostEngine).onChat},
	TypeConfig:            {"", (*HostEngine).onConfig},
}

// HostEngine is the authority side of one peer link.
type HostEngine struct {
	out    Outbound
	auth   *permission.Authority
	h      HostHandlers
	sender transfer.Sender
	log    zerolog.Logger
	peer   string

	mu     sync.Mutex
	detach func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHostEngine(peer string, out Outbound, auth *permission.Authority, h HostHandlers) *HostEngine {
	ctx, cancel := context.WithCancel(context.Background())
	return &HostEngine{
		out:    out,
		auth:   auth,
		h:      h,
		peer:   peer,
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("module", "control.host").Str("peer", peer).Logger(),
	}
}

// SetChunkSize overrides the file chunk size for outbound transfers.
func (e *HostEngine) SetChunkSize(n int) { e.sender.ChunkSize = n }

// OnLinkReady pushes the full set and subscribes the peer to later updates.
func (e *HostEngine) OnLinkReady() {
	e.mu.Lock()
	if e.detach != nil {
		e.mu.Unlock()
		return
	}
	e.detach = e.auth.Attach(e.peer, func(s permission.Set) error {
		return send(e.out, PermissionsUpdate{Permissions: s})
	})
	e.mu.Unlock()

	if err := send(e.out, Permissions{Permissions: e.auth.Snapshot()}); err != nil {
		e.log.Warn().Err(err).Msg("initial permissions push")
	}
	e.log.Info().Msg("control link ready")
}

// Teardown detaches from the authority and cancels outbound transfers.
func (e *HostEngine) Teardown() {
	e.mu.Lock()
	detach := e.detach
	e.detach = nil
	e.mu.Unlock()
	if detach != nil {
		detach()
	}
	e.cancel()
	e.wg.Wait()
}

// HandleMessage re-checks the gate on every message; nothing is cached between calls.
func (e *HostEngine) HandleMessage(label string, raw []byte) {
	m, ok := decodeInbound(&e.log, label, raw)
	if !ok {
		return
	}
	route, ok := hostRoutes[m.MessageType()]
	if !ok {
		e.log.Debug().Str("type", string(m.MessageType())).Msg("no host handler")
		return
	}
	if route.gate != "" && !e.auth.Check(route.gate) {
		e.deny(route.gate, m.MessageType())
		return
	}
	if err := route.handle(e, m); err != nil {
		e.log.Warn().Err(err).Str("type", string(m.MessageType())).Msg("handler failed")
	}
}

func (e *HostEngine) deny(p permission.Name, t Type) {
	e.log.Info().Str("permission", string(p)).Str("type", string(t)).Msg("permission denied")
	if err := send(e.out, PermissionDenied{Permission: p}); err != nil {
		e.log.Warn().Err(err).Msg("send permission_denied")
	}
	if fn := e.h.OnPermissionDenied; fn != nil {
		fn(p, t)
	}
}

func (e *HostEngine) onMouse(m Message) error {
	if e.h.Input == nil {
		return nil
	}
	return e.h.Input.InjectMouse(m.(Mouse))
}

func (e *HostEngine) onKeyboard(m Message) error {
	if e.h.Input == nil {
		return nil
	}
	return e.h.Input.InjectKeyboard(m.(Keyboard))
}

func (e *HostEngine) onClipboard(m Message) error {
	c := m.(Clipboard)
	if e.h.Clipboard == nil {
		return errors.New("no clipboard access configured")
	}
	switch c.Action {
	case "get":
		text, err := e.h.Clipboard.ReadText()
		if err != nil {
			return err
		}
		return send(e.out, Clipboard{Action: "update", Text: text})
	case "set":
		return e.h.Clipboard.WriteText(c.Text)
	}
	e.log.Debug().Str("action", c.Action).Msg("clipboard action ignored on host")
	return nil
}

func (e *HostEngine) onFile(m Message) error {
	f := m.(File)
	if f.Action != "transfer" {
		e.log.Debug().Str("action", f.Action).Msg("file action ignored on host")
		return nil
	}
	if e.h.Files == nil {
		return errors.New("no file source configured")
	}
	r, mime, err := e.h.Files.Open(f.Name)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer r.Close()
		if err := e.sender.Send(e.ctx, f.Name, mime, r, fileSink{e.out}); err != nil {
			e.log.Warn().Err(err).Str("name", f.Name).Msg("file transfer aborted")
			return
		}
		e.log.Info().Str("name", f.Name).Msg("file transfer sent")
	}()
	return nil
}

func (e *HostEngine) onWhiteboard(m Message) error {
	if fn := e.h.OnWhiteboard; fn != nil {
		fn(m.(Whiteboard))
	}
	return nil
}

func (e *HostEngine) onSystem(Message) error {
	if e.h.System == nil {
		return errors.New("no system inspector configured")
	}
	info, err := e.h.System.Info()
	if err != nil {
		return err
	}
	return send(e.out, SystemInfo{Info: info})
}

func (e *HostEngine) onRestart(Message) error {
	if e.h.Restarter == nil {
		return errors.New("no restarter configured")
	}
	e.log.Warn().Msg("restart requested by peer")
	return e.h.Restarter.Restart()
}

func (e *HostEngine) onPermissionRequest(m Message) error {
	p := m.(PermissionRequest).Permission
	e.log.Info().Str("permission", string(p)).Msg("permission requested")
	if fn := e.h.OnPermissionRequest; fn != nil {
		fn(p)
	}
	return nil
}

func (e *HostEngine) onChat(m Message) error {
	if fn := e.h.OnChat; fn != nil {
		fn(m.(Chat), true)
	}
	return nil
}

func (e *HostEngine) onConfig(m Message) error {
	if fn := e.h.OnConfig; fn != nil {
		fn(m.(Config))
	}
	return nil
}

// SetPrivacyMode is only allowed while the host's own privacyMode permission is on.
func (e *HostEngine) SetPrivacyMode(enabled bool) error {
	if !e.auth.Check(permission.PrivacyMode) {
		return fmt.Errorf("%w: %s", ErrNotPermitted, permission.PrivacyMode)
	}
	return send(e.out, PrivacyMode{Enabled: enabled})
}

func (e *HostEngine) SendChat(text string) error {
	msg := Chat{Action: "message", Text: text, Timestamp: nowMillis()}
	if err := send(e.out, msg); err != nil {
		return err
	}
	if fn := e.h.OnChat; fn != nil {
		fn(msg, false)
	}
	return nil
}

// SendWhiteboard shares host strokes; the client decides whether to render them.
func (e *HostEngine) SendWhiteboard(w Whiteboard) error {
	return send(e.out, w)
}

// PushClipboard proactively shares the host clipboard if the peer may use it.
func (e *HostEngine) PushClipboard(text string) error {
	if !e.auth.Check(permission.Clipboard) {
		return fmt.Errorf("%w: %s", ErrNotPermitted, permission.Clipboard)
	}
	return send(e.out, Clipboard{Action: "update", Text: text})
}
