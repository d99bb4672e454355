// Package link negotiates and owns the peer link between one host and one client.
package link

import (
	"context"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	ChannelControl = "control"
	ChannelChat    = "chat"
	ChannelFile    = "file"
)

type ChannelSpec struct {
	Label          string
	Ordered        bool
	MaxRetransmits *uint16
}

// DefaultChannels is what the initiator opens before its offer.
// A zero fileRetransmits keeps the file channel ordered and reliable.
func DefaultChannels(fileRetransmits uint16) []ChannelSpec {
	file := ChannelSpec{Label: ChannelFile, Ordered: true}
	if fileRetransmits > 0 {
		n := fileRetransmits
		file = ChannelSpec{Label: ChannelFile, Ordered: false, MaxRetransmits: &n}
	}
	return []ChannelSpec{
		{Label: ChannelControl, Ordered: true},
		{Label: ChannelChat, Ordered: true},
		file,
	}
}

// Channel is one named data channel of an established link.
type Channel interface {
	Label() string
	Send(data []byte) error
	OnOpen(func())
	OnMessage(func(data []byte))
	Close() error
}

// Transport is the peer-to-peer stack the link negotiates.
// Callbacks may fire from any goroutine, including synchronously from a method call.
type Transport interface {
	// CreateOffer produces and applies the local offer.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// AcceptOffer applies the remote offer and returns the applied local answer.
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	CreateChannel(spec ChannelSpec) (Channel, error)

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(State))
	OnChannel(func(Channel))

	Close() error
}

// Signaler carries negotiation payloads through the rendezvous service.
type Signaler interface {
	SendSignal(ctx context.Context, kind string, to domain.EndpointID, payload any) error
}
