// Package peer composes the signal client, the peer link and the control engine for one endpoint.
package peer

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/dkeye/RemoteDesk/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// TransportFactory builds the transport for a link towards remote.
type TransportFactory func(remote domain.EndpointID) (link.Transport, error)

func decodeDescription(env signaling.Envelope) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(env.Data, &sd); err != nil {
		return sd, fmt.Errorf("%w: %s payload: %v", domain.ErrMalformedMessage, env.Type, err)
	}
	if sd.SDP == "" {
		return sd, fmt.Errorf("%w: empty %s", domain.ErrMalformedMessage, env.Type)
	}
	return sd, nil
}

func decodeCandidate(env signaling.Envelope) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Data, &c); err != nil {
		return c, fmt.Errorf("%w: candidate payload: %v", domain.ErrMalformedMessage, err)
	}
	return c, nil
}
