package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/fieldlink/internal/core"
)

// Microphone opens Streams fed from a fixed set of frames.
type Microphone struct {
	Frames  [][]int
	Format  core.AudioFormat
	OpenErr error

	mu      sync.Mutex
	opened  int
	streams []*Stream
}

func (m *Microphone) Open(context.Context) (core.AudioStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.opened++
	format := m.Format
	if format.SampleRate == 0 {
		format = core.AudioFormat{SampleRate: 16000, NumChannels: 1}
	}
	s := &Stream{format: format, ch: make(chan []int, len(m.Frames))}
	for _, f := range m.Frames {
		s.ch <- f
	}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *Microphone) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Live counts streams that have not been closed.
func (m *Microphone) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.streams {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

// Stream buffers its frames up front and closes its channel on Close.
type Stream struct {
	format core.AudioFormat
	ch     chan []int

	mu     sync.Mutex
	closed bool
	closes int
}

func (s *Stream) Frames() <-chan []int     { return s.ch }
func (s *Stream) Format() core.AudioFormat { return s.format }

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
