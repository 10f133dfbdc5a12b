// Package audiodev provides capture devices backed by WAV files.
package audiodev

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/fieldlink/internal/core"
)

// FileMicrophone plays a .WAV file as if it were a live microphone, one
// frame per FrameDuration. Each Open gets its own exclusive stream.
type FileMicrophone struct {
	Path          string
	FrameDuration time.Duration
}

func NewFileMicrophone(path string, frameDuration time.Duration) *FileMicrophone {
	if frameDuration <= 0 {
		frameDuration = 20 * time.Millisecond
	}
	return &FileMicrophone{Path: path, FrameDuration: frameDuration}
}

func (m *FileMicrophone) Open(ctx context.Context) (core.AudioStream, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, errors.New("error while decoding audio file")
	}
	buf, err := dec.FullPCMBuffer()
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read pcm: %w", err)
	}

	format := core.AudioFormat{SampleRate: int(dec.SampleRate), NumChannels: int(dec.NumChans)}
	samplesPerFrame := int(float64(format.NumChannels) * float64(format.SampleRate) *
		float64(m.FrameDuration) / float64(time.Second))
	if samplesPerFrame <= 0 {
		return nil, errors.New("non-positive samples per frame")
	}

	logger := log.With().Str("module", "audiodev").Str("file", m.Path).Logger()
	logger.Debug().
		Int("sample_rate", format.SampleRate).
		Int("channels", format.NumChannels).
		Int("samples_per_frame", samplesPerFrame).
		Msg("capture opened")

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &fileStream{
		format: format,
		frames: make(chan []int),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.play(sctx, buf.Data, samplesPerFrame, m.FrameDuration)
	return s, nil
}

type fileStream struct {
	format core.AudioFormat
	frames chan []int
	cancel context.CancelFunc
	done   chan struct{}
	logger zerolog.Logger
	once   sync.Once
}

// play owns the frames channel and closes it when finished or cancelled.
func (s *fileStream) play(ctx context.Context, data []int, samplesPerFrame int, every time.Duration) {
	defer close(s.done)
	defer close(s.frames)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for start := 0; start < len(data); start += samplesPerFrame {
		end := min(start+samplesPerFrame, len(data))
		frame := make([]int, end-start)
		copy(frame, data[start:end])

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
	s.logger.Debug().Msg("finished playing")
}

func (s *fileStream) Frames() <-chan []int     { return s.frames }
func (s *fileStream) Format() core.AudioFormat { return s.format }

func (s *fileStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.logger.Debug().Msg("capture released")
	})
	return nil
}
