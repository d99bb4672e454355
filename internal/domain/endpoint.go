// Package domain contains entities without transport logic, just meta-data
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type EndpointID string

type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// NewEndpointID returns a connection-scoped id. It is never reused across reconnects.
func NewEndpointID() EndpointID {
	return EndpointID(uuid.NewString())
}

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleHost:
		return RoleHost, nil
	case RoleClient:
		return RoleClient, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
}

func (r Role) Valid() bool { return r == RoleHost || r == RoleClient }

// Member represents an endpoint's participation in a session.
type Member struct {
	EndpointID EndpointID `json:"endpointId"`
	Role       Role       `json:"role"`
}

func NewMember(id EndpointID, role Role) Member {
	return Member{EndpointID: id, Role: role}
}
