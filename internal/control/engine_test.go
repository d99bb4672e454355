package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/dkeye/RemoteDesk/internal/permission"
	"github.com/dkeye/RemoteDesk/internal/testutil/testlog"
	"github.com/dkeye/RemoteDesk/internal/transfer"
)

type sent struct {
	label string
	msg   Message
}

type recOut struct {
	mu   sync.Mutex
	msgs []sent
}

func (o *recOut) Send(label string, data []byte) error {
	m, err := Decode(data)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, sent{label, m})
	return nil
}

func (o *recOut) all() []sent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sent(nil), o.msgs...)
}

func (o *recOut) last() sent {
	all := o.all()
	if len(all) == 0 {
		return sent{}
	}
	return all[len(all)-1]
}

type fakeInput struct{ mice, keys int }

func (f *fakeInput) InjectMouse(Mouse) error       { f.mice++; return nil }
func (f *fakeInput) InjectKeyboard(Keyboard) error { f.keys++; return nil }

type fakeClipboard struct{ text string }

func (c *fakeClipboard) ReadText() (string, error) { return c.text, nil }
func (c *fakeClipboard) WriteText(s string) error  { c.text = s; return nil }

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

type memFiles map[string][]byte

func (m memFiles) Open(name string) (io.ReadSeekCloser, string, error) {
	b, ok := m[name]
	if !ok {
		return nil, "", errors.New("no such file")
	}
	return nopCloser{bytes.NewReader(b)}, "application/octet-stream", nil
}

func enc(t *testing.T, m Message) []byte {
	t.Helper()
	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

func TestHostDenialSymmetry(t *testing.T) {
	testlog.Start(t)
	out := &recOut{}
	auth := permission.NewAuthority(permission.Set{})
	input := &fakeInput{}
	var denied []permission.Name
	e := NewHostEngine("c1", out, auth, HostHandlers{
		Input:              input,
		OnPermissionDenied: func(p permission.Name, _ Type) { denied = append(denied, p) },
	})
	e.OnLinkReady()

	move := enc(t, Mouse{Action: "move", X: 10, Y: 20})
	for i := 0; i < 3; i++ {
		e.HandleMessage(link.ChannelControl, move)
		last := out.last()
		pd, ok := last.msg.(PermissionDenied)
		if !ok || pd.Permission != permission.Mouse || last.label != link.ChannelControl {
			t.Fatalf("reply=%+v", last)
		}
	}
	if input.mice != 0 || len(denied) != 3 {
		t.Fatalf("mice=%d denied=%d", input.mice, len(denied))
	}

	if _, err := auth.Update(permission.Patch{permission.Mouse: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	upd, ok := out.last().msg.(PermissionsUpdate)
	if !ok || !upd.Permissions.Mouse {
		t.Fatalf("no permissions_update pushed: %+v", out.last())
	}
	n := len(out.all())
	e.HandleMessage(link.ChannelControl, move)
	if input.mice != 1 || len(out.all()) != n {
		t.Fatalf("accepted message mice=%d replies=%d", input.mice, len(out.all())-n)
	}

	_, _ = auth.Update(permission.Patch{permission.Mouse: false})
	e.HandleMessage(link.ChannelControl, move)
	if input.mice != 1 {
		t.Fatalf("revocation ignored")
	}
}

func TestHostPushesPermissionsOnReady(t *testing.T) {
	testlog.Start(t)
	out := &recOut{}
	auth := permission.NewAuthority(permission.DefaultSet())
	e := NewHostEngine("c1", out, auth, HostHandlers{})
	e.OnLinkReady()
	e.OnLinkReady()
	if got := out.all(); len(got) != 1 {
		t.Fatalf("pushes=%d", len(got))
	}
	p, ok := out.last().msg.(Permissions)
	if !ok || p.Permissions != permission.DefaultSet() {
		t.Fatalf("first push=%+v", out.last())
	}
	e.Teardown()
	_, _ = auth.Update(permission.Patch{permission.Audio: true})
	if len(out.all()) != 1 {
		t.Fatalf("pushed after teardown")
	}
}

func TestHostClipboard(t *testing.T) {
	testlog.Start(t)
	out := &recOut{}
	auth := permission.NewAuthority(permission.Set{Clipboard: true})
	clip := &fakeClipboard{text: "X"}
	e := NewHostEngine("c1", out, auth, HostHandlers{Clipboard: clip})

	e.HandleMessage(link.ChannelControl, enc(t, Clipboard{Action: "get"}))
	c, ok := out.last().msg.(Clipboard)
	if !ok || c.Action != "update" || c.Text != "X" {
		t.Fatalf("reply=%+v", out.last())
	}
	e.HandleMessage(link.ChannelControl, enc(t, Clipboard{Action: "set", Text: "Y"}))
	if clip.text != "Y" {
		t.Fatalf("clipboard=%q", clip.text)
	}
}

func TestHostUngatedAndMalformed(t *testing.T) {
	testlog.Start(t)
	out := &recOut{}
	auth := permission.NewAuthority(permission.Set{})
	var chats []string
	var requests []permission.Name
	var quality string
	e := NewHostEngine("c1", out, auth, HostHandlers{
		OnChat:              func(c Chat, remote bool) { chats = append(chats, c.Text) },
		OnPermissionRequest: func(p permission.Name) { requests = append(requests, p) },
		OnConfig:            func(c Config) { quality = c.Quality },
	})

	e.HandleMessage(link.ChannelChat, enc(t, Chat{Action: "message", Text: "hello"}))
	e.HandleMessage(link.ChannelControl, enc(t, PermissionRequest{Permission: permission.FileTransfer}))
	e.HandleMessage(link.ChannelControl, enc(t, Config{Action: "setQuality", Quality: "low"}))
	e.HandleMessage(link.ChannelControl, []byte(`{"type":"mouse","action":`))
	e.HandleMessage(link.ChannelControl, []byte(`{"type":"teleport"}`))
	e.HandleMessage(link.ChannelFile, enc(t, Mouse{Action: "move"}))

	if len(chats) != 1 || len(requests) != 1 || quality != "low" {
		t.Fatalf("chats=%v requests=%v quality=%q", chats, requests, quality)
	}
	if len(out.all()) != 0 {
		t.Fatalf("unexpected replies: %+v", out.all())
	}
}

func TestHostGatesSystemAndRestart(t *testing.T) {
	testlog.Start(t)
	out := &recOut{}
	auth := permission.NewAuthority(permission.Set{})
	e := NewHostEngine("c1", out, auth, HostHandlers{System: staticInfo{"os": "linux"}})

	e.HandleMessage(link.ChannelControl, enc(t, System{Action: "get"}))
	if pd, ok := out.last().msg.(PermissionDenied); !ok || pd.Permission != permission.SystemInfo {
		t.Fatalf("reply=%+v", out.last())
	}
	e.HandleMessage(link.ChannelControl, enc(t, Restart{Action: "request"}))
	if pd, ok := out.last().msg.(PermissionDenied); !ok || pd.Permission != permission.Restart {
		t.Fatalf("reply=%+v", out.last())
	}
	_, _ = auth.Update(permission.Patch{permission.SystemInfo: true})
	e.HandleMessage(link.ChannelControl, enc(t, System{Action: "get"}))
	if si, ok := out.last().msg.(SystemInfo); !ok || si.Info["os"] != "linux" {
		t.Fatalf("reply=%+v", out.last())
	}
}

type staticInfo map[string]any

func (s staticInfo) Info() (map[string]any, error) { return s, nil }

func TestHostPrivacyModeGate(t *testing.T) {
	testlog.Start(t)
	out := &recOut{}
	auth := permission.NewAuthority(permission.Set{})
	e := NewHostEngine("c1", out, auth, HostHandlers{})
	if err := e.SetPrivacyMode(true); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("err=%v", err)
	}
	_, _ = auth.Update(permission.Patch{permission.PrivacyMode: true})
	if err := e.SetPrivacyMode(true); err != nil {
		t.Fatalf("err=%v", err)
	}
	if pm, ok := out.last().msg.(PrivacyMode); !ok || !pm.Enabled {
		t.Fatalf("last=%+v", out.last())
	}
}

func TestHostFileTransferIntoClient(t *testing.T) {
	testlog.Start(t)
	payload := bytes.Repeat([]byte{7}, 40000)
	events := make(chan transfer.Event, 16)
	client := NewClientEngine(&recOut{}, ClientHandlers{
		OnFileReceive: func(ev transfer.Event) { events <- ev },
	}, transfer.Options{})
	client.HandleMessage(link.ChannelControl, enc(t, Permissions{Permissions: permission.Set{FileTransfer: true}}))

	pipe := outFunc(func(label string, data []byte) error {
		client.HandleMessage(label, data)
		return nil
	})
	auth := permission.NewAuthority(permission.Set{FileTransfer: true})
	host := NewHostEngine("c1", pipe, auth, HostHandlers{Files: memFiles{"a.bin": payload}})
	host.HandleMessage(link.ChannelControl, enc(t, File{Action: "transfer", Name: "a.bin"}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind != transfer.EventComplete {
				continue
			}
			if !ev.Verified || !bytes.Equal(ev.Data, payload) {
				t.Fatalf("complete verified=%v len=%d", ev.Verified, len(ev.Data))
			}
			host.Teardown()
			return
		case <-deadline:
			t.Fatalf("transfer never completed")
		}
	}
}

type outFunc func(label string, data []byte) error

func (f outFunc) Send(label string, data []byte) error { return f(label, data) }

func TestClientCacheAndAdvisory(t *testing.T) {
	testlog.Start(t)
	out := &recOut{}
	var perms []permission.Set
	var privacy []bool
	clip := &fakeClipboard{}
	e := NewClientEngine(out, ClientHandlers{
		Clipboard:           clip,
		OnPermissionsChange: func(s permission.Set) { perms = append(perms, s) },
		OnPrivacyModeChange: func(b bool) { privacy = append(privacy, b) },
	}, transfer.Options{})

	if err := e.SendMouse(Mouse{Action: "move"}); !errors.Is(err, ErrNotPermitted) || len(out.all()) != 0 {
		t.Fatalf("mouse err=%v sent=%d", err, len(out.all()))
	}
	if err := e.RequestClipboard(); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("clipboard err=%v", err)
	}
	if pr, ok := out.last().msg.(PermissionRequest); !ok || pr.Permission != permission.Clipboard {
		t.Fatalf("last=%+v", out.last())
	}
	if e.Permissions().Clipboard {
		t.Fatalf("request changed the cache")
	}

	e.HandleMessage(link.ChannelControl, enc(t, Clipboard{Action: "update", Text: "leak"}))
	if clip.text != "" {
		t.Fatalf("clipboard applied without permission")
	}

	e.HandleMessage(link.ChannelControl, enc(t, PermissionsUpdate{Permissions: permission.Set{Mouse: true, Clipboard: true}}))
	if len(perms) != 1 || !e.Permissions().Mouse {
		t.Fatalf("cache not replaced: %+v", perms)
	}
	if err := e.SendMouse(Mouse{Action: "move"}); err != nil {
		t.Fatalf("mouse err=%v", err)
	}
	e.HandleMessage(link.ChannelControl, enc(t, Clipboard{Action: "update", Text: "ok"}))
	if clip.text != "ok" {
		t.Fatalf("clipboard=%q", clip.text)
	}

	e.HandleMessage(link.ChannelControl, enc(t, PrivacyMode{Enabled: true}))
	if err := e.SendMouse(Mouse{Action: "move"}); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("mouse during privacy err=%v", err)
	}
	if len(privacy) != 1 || !e.PrivacyMode() {
		t.Fatalf("privacy=%v", privacy)
	}

	e.Teardown()
	if e.Permissions() != (permission.Set{}) || e.PrivacyMode() {
		t.Fatalf("teardown left state behind")
	}
}

func TestClientSpecialKeyRequestsPermission(t *testing.T) {
	testlog.Start(t)
	out := &recOut{}
	e := NewClientEngine(out, ClientHandlers{}, transfer.Options{})
	err := e.SendKeyboard(Keyboard{Action: "special", Combination: "ctrl+alt+del"})
	if !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("err=%v", err)
	}
	if pr, ok := out.last().msg.(PermissionRequest); !ok || pr.Permission != permission.Keyboard {
		t.Fatalf("last=%+v", out.last())
	}
	if err := e.SendKeyboard(Keyboard{Action: "down", Key: "a"}); !errors.Is(err, ErrNotPermitted) || len(out.all()) != 1 {
		t.Fatalf("plain key err=%v sent=%d", err, len(out.all()))
	}
}

func TestClientChatAndGatedForwarding(t *testing.T) {
	testlog.Start(t)
	out := &recOut{}
	var chats []string
	var boards int
	var info map[string]any
	e := NewClientEngine(out, ClientHandlers{
		OnChatMessage:    func(text string, remote bool) { chats = append(chats, text) },
		OnWhiteboardData: func(Whiteboard) { boards++ },
		OnSystemInfo:     func(m map[string]any) { info = m },
	}, transfer.Options{})

	if err := e.SendChat("hi"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out.last().label != link.ChannelChat {
		t.Fatalf("chat label=%s", out.last().label)
	}
	e.HandleMessage(link.ChannelChat, enc(t, Chat{Action: "message", Text: "yo"}))
	board := enc(t, Whiteboard{Action: "stroke", Data: json.RawMessage(`[]`)})
	e.HandleMessage(link.ChannelControl, board)
	e.HandleMessage(link.ChannelControl, enc(t, Permissions{Permissions: permission.Set{Whiteboard: true}}))
	e.HandleMessage(link.ChannelControl, board)
	e.HandleMessage(link.ChannelControl, enc(t, SystemInfo{Info: map[string]any{"os": "linux"}}))

	if len(chats) != 2 || chats[1] != "yo" || boards != 1 || info["os"] != "linux" {
		t.Fatalf("chats=%v boards=%d info=%v", chats, boards, info)
	}
	if err := e.SetQuality("high"); err != nil {
		t.Fatalf("quality: %v", err)
	}
}
