// Package control implements the permission-gated command protocol spoken over the peer link.
package control

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/permission"
)

type Type string

const (
	TypeMouse             Type = "mouse"
	TypeKeyboard          Type = "keyboard"
	TypeClipboard         Type = "clipboard"
	TypeFile              Type = "file"
	TypeWhiteboard        Type = "whiteboard"
	TypeChat              Type = "chat"
	TypeSystem            Type = "system"
	TypeSystemInfo        Type = "system_info"
	TypeRestart           Type = "restart"
	TypePermissions       Type = "permissions"
	TypePermissionsUpdate Type = "permissions_update"
	TypePermissionDenied  Type = "permission_denied"
	TypePermissionRequest Type = "permission_request"
	TypePrivacyMode       Type = "privacy_mode"
	TypeConfig            Type = "config"
)

// Message is one variant of the control union; Type is the wire discriminant.
type Message interface {
	MessageType() Type
}

type validator interface {
	Message
	Validate() error
}

type Mouse struct {
	Action string  `json:"action"`
	Button int     `json:"button,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	DeltaX float64 `json:"deltaX,omitempty"`
	DeltaY float64 `json:"deltaY,omitempty"`
}

func (Mouse) MessageType() Type { return TypeMouse }

func (m Mouse) Validate() error {
	switch m.Action {
	case "move", "down", "up", "wheel":
		return nil
	}
	return badAction(TypeMouse, m.Action)
}

type Keyboard struct {
	Action      string `json:"action"`
	Key         string `json:"key,omitempty"`
	Code        string `json:"code,omitempty"`
	AltKey      bool   `json:"altKey,omitempty"`
	CtrlKey     bool   `json:"ctrlKey,omitempty"`
	ShiftKey    bool   `json:"shiftKey,omitempty"`
	MetaKey     bool   `json:"metaKey,omitempty"`
	Combination string `json:"combination,omitempty"`
}

func (Keyboard) MessageType() Type { return TypeKeyboard }

func (k Keyboard) Validate() error {
	switch k.Action {
	case "down", "up":
		if k.Key == "" && k.Code == "" {
			return fmt.Errorf("%w: keyboard %s without key", domain.ErrMalformedMessage, k.Action)
		}
		return nil
	case "special":
		if k.Combination == "" {
			return fmt.Errorf("%w: special key without combination", domain.ErrMalformedMessage)
		}
		return nil
	}
	return badAction(TypeKeyboard, k.Action)
}

type Clipboard struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
}

func (Clipboard) MessageType() Type { return TypeClipboard }

func (c Clipboard) Validate() error {
	switch c.Action {
	case "get", "set", "update":
		return nil
	}
	return badAction(TypeClipboard, c.Action)
}

// File covers transfer requests, info headers and data chunks. Data is base64 on the wire.
type File struct {
	Action   string `json:"action"`
	Name     string `json:"name"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Seq      *int   `json:"seq,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

func (File) MessageType() Type { return TypeFile }

func (f File) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: file without name", domain.ErrMalformedMessage)
	}
	switch f.Action {
	case "transfer", "data":
		return nil
	case "info":
		if f.Size < 0 {
			return fmt.Errorf("%w: negative file size", domain.ErrMalformedMessage)
		}
		return nil
	}
	return badAction(TypeFile, f.Action)
}

// Whiteboard strokes are opaque to the protocol.
type Whiteboard struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (Whiteboard) MessageType() Type { return TypeWhiteboard }

func (w Whiteboard) Validate() error {
	if w.Action == "" {
		return badAction(TypeWhiteboard, w.Action)
	}
	return nil
}

type Chat struct {
	Action    string `json:"action"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (Chat) MessageType() Type { return TypeChat }

func (c Chat) Validate() error {
	if c.Action != "message" {
		return badAction(TypeChat, c.Action)
	}
	return nil
}

type System struct {
	Action string `json:"action"`
}

func (System) MessageType() Type { return TypeSystem }

func (s System) Validate() error {
	if s.Action != "get" {
		return badAction(TypeSystem, s.Action)
	}
	return nil
}

type SystemInfo struct {
	Info map[string]any `json:"info"`
}

func (SystemInfo) MessageType() Type { return TypeSystemInfo }
func (SystemInfo) Validate() error   { return nil }

type Restart struct {
	Action string `json:"action"`
}

func (Restart) MessageType() Type { return TypeRestart }

func (r Restart) Validate() error {
	if r.Action != "request" {
		return badAction(TypeRestart, r.Action)
	}
	return nil
}

type Permissions struct {
	Permissions permission.Set `json:"permissions"`
}

func (Permissions) MessageType() Type { return TypePermissions }
func (Permissions) Validate() error   { return nil }

type PermissionsUpdate struct {
	Permissions permission.Set `json:"permissions"`
}

func (PermissionsUpdate) MessageType() Type { return TypePermissionsUpdate }
func (PermissionsUpdate) Validate() error   { return nil }

type PermissionDenied struct {
	Permission permission.Name `json:"permission"`
}

func (PermissionDenied) MessageType() Type { return TypePermissionDenied }
func (p PermissionDenied) Validate() error { return validName(p.Permission) }

type PermissionRequest struct {
	Permission permission.Name `json:"permission"`
}

func (PermissionRequest) MessageType() Type { return TypePermissionRequest }
func (p PermissionRequest) Validate() error { return validName(p.Permission) }

type PrivacyMode struct {
	Enabled bool `json:"enabled"`
}

func (PrivacyMode) MessageType() Type { return TypePrivacyMode }
func (PrivacyMode) Validate() error   { return nil }

type Config struct {
	Action  string `json:"action"`
	Quality string `json:"quality,omitempty"`
}

func (Config) MessageType() Type { return TypeConfig }

func (c Config) Validate() error {
	if c.Action != "setQuality" || c.Quality == "" {
		return badAction(TypeConfig, c.Action)
	}
	return nil
}

func badAction(t Type, action string) error {
	return fmt.Errorf("%w: %s action %q", domain.ErrMalformedMessage, t, action)
}

func validName(n permission.Name) error {
	if _, err := permission.ParseName(string(n)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return nil
}
