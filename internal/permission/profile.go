package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrImmutableProfile = errors.New("built-in profiles are immutable")
	ErrInvalidProfile   = errors.New("invalid profile")
)

const (
	ProfileDefault       = "default"
	ProfileScreenSharing = "screen-sharing"
	ProfileFullAccess    = "full-access"

	customPrefix = "custom-"
)

type Profile struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	IsEnabled          bool    `json:"isEnabled"`
	IsUnattendedAccess bool    `json:"isUnattendedAccess"`
	UnattendedPassword *string `json:"unattendedPassword,omitempty"`
	Permissions        Set     `json:"permissions"`
	IsBuiltIn          bool    `json:"isBuiltIn"`
}

func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidProfile)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidProfile)
	}
	if p.IsUnattendedAccess && (p.UnattendedPassword == nil || *p.UnattendedPassword == "") {
		return fmt.Errorf("%w: unattended access requires a password", ErrInvalidProfile)
	}
	return nil
}

// Clone deep-copies p, including the optional password.
func (p Profile) Clone() Profile {
	out := p
	if p.UnattendedPassword != nil {
		pw := *p.UnattendedPassword
		out.UnattendedPassword = &pw
	}
	return out
}

// BuiltInProfiles returns fresh copies on every call.
func BuiltInProfiles() []Profile {
	def := DefaultSet()
	def.Keyboard, def.Mouse, def.Clipboard = true, true, true
	def.Audio, def.ShowRemotePointer, def.Whiteboard = true, true, true

	share := DefaultSet()
	share.Keyboard, share.Mouse, share.Clipboard = false, false, false
	share.Audio, share.ShowRemotePointer = true, true
	share.Whiteboard = false
	share.RecordSession = true

	full := Set{Keyboard: true, Mouse: true, ShowRemotePointer: true, RecordSession: true}

	return []Profile{
		{
			ID: ProfileDefault, Name: "Default", Description: "Standard remote control",
			IsEnabled: true, Permissions: def, IsBuiltIn: true,
		},
		{
			ID: ProfileScreenSharing, Name: "Screen Sharing", Description: "View only, no input control",
			IsEnabled: true, Permissions: share, IsBuiltIn: true,
		},
		{
			ID: ProfileFullAccess, Name: "Full Access", Description: "Input control with session recording",
			IsEnabled: true, Permissions: full, IsBuiltIn: true,
		},
	}
}

func BuiltInProfile(id string) (Profile, bool) {
	for _, p := range BuiltInProfiles() {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

func IsBuiltInID(id string) bool {
	_, ok := BuiltInProfile(id)
	return ok
}

// CreateCustomProfile copies base's permissions by value under a fresh id.
func CreateCustomProfile(name string, base Profile) Profile {
	return Profile{
		ID:          customPrefix + uuid.NewString(),
		Name:        name,
		Description: fmt.Sprintf("Custom profile based on %s", base.Name),
		IsEnabled:   true,
		Permissions: base.Permissions,
	}
}

func EncodeProfile(p Profile) ([]byte, error) {
	return json.Marshal(p)
}

// DecodeProfile falls back to an empty profile with the all-false set on invalid input.
func DecodeProfile(raw []byte) (Profile, bool) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, false
	}
	return p, true
}
