package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/RemoteDesk/internal/domain"
)

// ErrUnknownType is returned for well-formed messages with an unrecognised discriminant.
// Engines ignore these silently.
var ErrUnknownType = errors.New("unknown control message type")

var decoders = map[Type]func([]byte) (Message, error){
	TypeMouse:             decodeAs[Mouse],
	TypeKeyboard:          decodeAs[Keyboard],
	TypeClipboard:         decodeAs[Clipboard],
	TypeFile:              decodeAs[File],
	TypeWhiteboard:        decodeAs[Whiteboard],
	TypeChat:              decodeAs[Chat],
	TypeSystem:            decodeAs[System],
	TypeSystemInfo:        decodeAs[SystemInfo],
	TypeRestart:           decodeAs[Restart],
	TypePermissions:       decodeAs[Permissions],
	TypePermissionsUpdate: decodeAs[PermissionsUpdate],
	TypePermissionDenied:  decodeAs[PermissionDenied],
	TypePermissionRequest: decodeAs[PermissionRequest],
	TypePrivacyMode:       decodeAs[PrivacyMode],
	TypeConfig:            decodeAs[Config],
}

// Encode writes m as a JSON object with its "type" first.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(string(m.MessageType()))
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("control: %s does not encode to an object", m.MessageType())
	}
	var out bytes.Buffer
	out.Grow(len(body) + len(tag) + 9)
	out.WriteString(`{"type":`)
	out.Write(tag)
	if rest := body[1:]; len(rest) > 1 {
		out.WriteByte(',')
		out.Write(rest)
	} else {
		out.WriteByte('}')
	}
	return out.Bytes(), nil
}

// Decode validates the discriminant before interpreting the payload.
func Decode(raw []byte) (Message, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", domain.ErrMalformedMessage)
	}
	dec, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return dec(raw)
}

func decodeAs[T validator](raw []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
