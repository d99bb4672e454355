// Package permission holds the host-authoritative capability set and its reusable profiles.
package permission

import (
	"encoding/json"
	"fmt"
)

type Name string

const (
	Keyboard          Name = "keyboard"
	Mouse             Name = "mouse"
	LockLocalInput    Name = "lockLocalInput"
	ShowRemotePointer Name = "showRemotePointer"
	Audio             Name = "audio"
	Clipboard         Name = "clipboard"
	FileTransfer      Name = "fileTransfer"
	FileManager       Name = "fileManager"
	SystemInfo        Name = "systemInfo"
	Restart           Name = "restart"
	RestrictedView    Name = "restrictedView"
	RecordSession     Name = "recordSession"
	RemotePrint       Name = "remotePrint"
	Whiteboard        Name = "whiteboard"
	TCPTunneling      Name = "tcpTunneling"
	PrivacyMode       Name = "privacyMode"
	LockOnDisconnect  Name = "lockOnDisconnect"
)

var names = []Name{
	Keyboard, Mouse, LockLocalInput, ShowRemotePointer, Audio, Clipboard,
	FileTransfer, FileManager, SystemInfo, Restart, RestrictedView,
	RecordSession, RemotePrint, Whiteboard, TCPTunneling, PrivacyMode, LockOnDisconnect,
}

// Names lists every known capability in wire order.
func Names() []Name {
	out := make([]Name, len(names))
	copy(out, names)
	return out
}

func ParseName(raw string) (Name, error) {
	for _, n := range names {
		if string(n) == raw {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown permission %q", raw)
}

// Set is a value type; copying a Set copies every flag.
// The zero value denies everything.
type Set struct {
	Keyboard          bool `json:"keyboard"`
	Mouse             bool `json:"mouse"`
	LockLocalInput    bool `json:"lockLocalInput"`
	ShowRemotePointer bool `json:"showRemotePointer"`
	Audio             bool `json:"audio"`
	Clipboard         bool `json:"clipboard"`
	FileTransfer      bool `json:"fileTransfer"`
	FileManager       bool `json:"fileManager"`
	SystemInfo        bool `json:"systemInfo"`
	Restart           bool `json:"restart"`
	RestrictedView    bool `json:"restrictedView"`
	RecordSession     bool `json:"recordSession"`
	RemotePrint       bool `json:"remotePrint"`
	Whiteboard        bool `json:"whiteboard"`
	TCPTunneling      bool `json:"tcpTunneling"`
	PrivacyMode       bool `json:"privacyMode"`
	LockOnDisconnect  bool `json:"lockOnDisconnect"`
}

// DefaultSet is what a fresh session grants before a profile is applied.
func DefaultSet() Set {
	return Set{Keyboard: true, Mouse: true, ShowRemotePointer: true, Clipboard: true}
}

// AllGranted returns a set with every capability on.
func AllGranted() Set {
	var s Set
	for _, n := range names {
		*s.field(n) = true
	}
	return s
}

func (s *Set) field(n Name) *bool {
	switch n {
	case Keyboard:
		return &s.Keyboard
	case Mouse:
		return &s.Mouse
	case LockLocalInput:
		return &s.LockLocalInput
	case ShowRemotePointer:
		return &s.ShowRemotePointer
	case Audio:
		return &s.Audio
	case Clipboard:
		return &s.Clipboard
	case FileTransfer:
		return &s.FileTransfer
	case FileManager:
		return &s.FileManager
	case SystemInfo:
		return &s.SystemInfo
	case Restart:
		return &s.Restart
	case RestrictedView:
		return &s.RestrictedView
	case RecordSession:
		return &s.RecordSession
	case RemotePrint:
		return &s.RemotePrint
	case Whiteboard:
		return &s.Whiteboard
	case TCPTunneling:
		return &s.TCPTunneling
	case PrivacyMode:
		return &s.PrivacyMode
	case LockOnDisconnect:
		return &s.LockOnDisconnect
	}
	return nil
}

// Has reports whether n is granted. Unknown names are never granted.
func (s Set) Has(n Name) bool {
	f := s.field(n)
	return f != nil && *f
}

// Patch is a partial update keyed by capability.
type Patch map[Name]bool

// Apply returns a copy of s with p merged in. Unknown names fail the whole patch.
func (s Set) Apply(p Patch) (Set, error) {
	out := s
	for n, v := range p {
		f := out.field(n)
		if f == nil {
			return s, fmt.Errorf("unknown permission %q", n)
		}
		*f = v
	}
	return out, nil
}

// Diff lists the capabilities whose value differs between s and other.
func (s Set) Diff(other Set) Patch {
	p := Patch{}
	for _, n := range names {
		if s.Has(n) != other.Has(n) {
			p[n] = other.Has(n)
		}
	}
	return p
}

func Encode(s Set) ([]byte, error) {
	return json.Marshal(s)
}

// Decode never fails: invalid input yields the all-false set.
func Decode(raw []byte) Set {
	var s Set
	if err := json.Unmarshal(raw, &s); err != nil {
		return Set{}
	}
	return s
}
