package link

type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Phase tracks negotiation progress.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOfferCreated
	PhaseOfferReceived
	PhaseAnswerReceived
	PhaseIceExchanging
	PhaseConnected
	PhaseFailed
	PhaseClosed
)

var phaseNames = [...]string{"idle", "offer-created", "offer-received", "answer-received", "ice-exchanging", "connected", "failed", "closed"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// State is the transport-level link state.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

var stateNames = [...]string{"new", "connecting", "connected", "disconnected", "failed", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s ends the link.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateClosed
}
