// Package capture wraps one exclusive microphone capture and encodes it as WAV.
package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
)

const bitDepth = 16

// Recording accumulates PCM from an AudioStream. The stream is released
// exactly once, by Finish or Discard.
type Recording struct {
	ID      string
	stream  core.AudioStream
	format  core.AudioFormat
	tempDir string
	logger  zerolog.Logger

	mu      sync.Mutex
	samples []int

	collected chan struct{}
	release   sync.Once
}

// Start opens mic and begins buffering. A nil mic is a capability error.
func Start(ctx context.Context, mic core.Microphone, tempDir string) (*Recording, error) {
	if mic == nil {
		return nil, fmt.Errorf("%w: audio capture not supported", domain.ErrCapability)
	}
	stream, err := mic.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open microphone: %w", domain.ErrCapability, err)
	}

	id := uuid.NewString()
	r := &Recording{
		ID:        id,
		stream:    stream,
		format:    stream.Format(),
		tempDir:   tempDir,
		logger:    log.With().Str("module", "capture").Str("recording", id).Logger(),
		collected: make(chan struct{}),
	}
	go r.collect()
	r.logger.Debug().Int("sample_rate", r.format.SampleRate).Int("channels", r.format.NumChannels).Msg("recording started")
	return r, nil
}

func (r *Recording) collect() {
	defer close(r.collected)
	for frame := range r.stream.Frames() {
		r.mu.Lock()
		r.samples = append(r.samples, frame...)
		r.mu.Unlock()
	}
}

// Samples returns how many samples have been buffered so far.
func (r *Recording) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Finish releases the device and returns the clip as WAV bytes.
func (r *Recording) Finish() ([]byte, error) {
	r.close()
	<-r.collected

	r.mu.Lock()
	samples := r.samples
	r.mu.Unlock()

	data, err := encodeWAV(r.tempDir, r.format, samples)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Int("samples", len(samples)).Int("bytes", len(data)).Msg("recording finished")
	return data, nil
}

// FinishBase64 is Finish followed by standard base64 encoding.
func (r *Recording) FinishBase64() (string, error) {
	data, err := r.Finish()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Discard releases the device and drops the buffered audio.
func (r *Recording) Discard() {
	r.close()
	<-r.collected
	r.mu.Lock()
	r.samples = nil
	r.mu.Unlock()
	r.logger.Debug().Msg("recording discarded")
}

func (r *Recording) close() {
	r.release.Do(func() {
		if err := r.stream.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("release microphone")
		}
	})
}

// encodeWAV goes through a temp file since wav.Encoder needs an io.WriteSeeker.
func encodeWAV(dir string, format core.AudioFormat, samples []int) ([]byte, error) {
	if format.SampleRate <= 0 || format.NumChannels <= 0 {
		return nil, fmt.Errorf("invalid audio format %+v", format)
	}
	f, err := os.CreateTemp(dir, "fieldlink-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	name := f.Name()
	defer os.Remove(name)

	enc := wav.NewEncoder(f, format.SampleRate, bitDepth, format.NumChannels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: format.SampleRate, NumChannels: format.NumChannels},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}
