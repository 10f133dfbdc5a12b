package sfu

import (
	"sync/atomic"

	"github.com/dkeye/fieldlink/internal/core"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// OutTrack is one sink attached to a relayed remote track.
type OutTrack struct {
	Sink  core.RTPSink
	state atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(sink core.RTPSink) *OutTrack {
	return &OutTrack{Sink: sink}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.Store(int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.Store(int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
