package media

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// PacketWriter is satisfied by *webrtc.TrackLocalStaticRTP.
type PacketWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// OutTrack is the host's outgoing screen track towards one client.
type OutTrack struct {
	w     PacketWriter
	state atomic.Int32
}

func NewOutTrack(w PacketWriter) *OutTrack {
	return &OutTrack{w: w}
}

func (ot *OutTrack) State() TrackState { return TrackState(ot.state.Load()) }
func (ot *OutTrack) MarkOk()           { ot.state.Store(int32(TrackStateOk)) }
func (ot *OutTrack) MarkMuted()        { ot.state.Store(int32(TrackStateMuted)) }
func (ot *OutTrack) MarkDelete()       { ot.state.Store(int32(TrackStateDelete)) }
