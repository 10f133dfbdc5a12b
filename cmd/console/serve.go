package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dkeye/fieldlink/internal/adapters/audiodev"
	"github.com/dkeye/fieldlink/internal/adapters/backend"
	"github.com/dkeye/fieldlink/internal/adapters/events"
	router "github.com/dkeye/fieldlink/internal/adapters/http"
	"github.com/dkeye/fieldlink/internal/adapters/relay"
	"github.com/dkeye/fieldlink/internal/app/audio"
	"github.com/dkeye/fieldlink/internal/app/inspector"
	"github.com/dkeye/fieldlink/internal/app/notes"
	"github.com/dkeye/fieldlink/internal/app/session"
	"github.com/dkeye/fieldlink/internal/app/streams"
	"github.com/dkeye/fieldlink/internal/config"
	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
	"github.com/dkeye/fieldlink/internal/metrics"
)

const publishTimeout = 5 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the operator API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file; default config/config.<CONFIG_ENV>.yaml",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.Bool("debug") {
				cfg.Mode = "debug"
			}
			return serve(c.Context, cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	client := backend.NewClient(cfg.Backend.BaseURL, backend.Timeouts{
		Token:   cfg.Backend.TokenTimeout,
		Detect:  cfg.Backend.DetectTimeout,
		Embed:   cfg.Backend.EmbedTimeout,
		Similar: cfg.Backend.SimilarTimeout,
		Note:    cfg.Backend.NoteTimeout,
		List:    cfg.Backend.ListTimeout,
	})
	if cfg.Backend.TokenPath != "" {
		client.TokenPath = cfg.Backend.TokenPath
	}

	publisher, closeEvents := setupEvents(cfg.MQTT)
	defer closeEvents()

	var mic core.Microphone
	if cfg.Capture.WAVPath != "" {
		mic = audiodev.NewFileMicrophone(cfg.Capture.WAVPath, cfg.Capture.FrameDuration)
	} else {
		log.Warn().Str("module", "main").Msg("no capture device configured, voice notes disabled")
	}

	reg := streams.NewRegistry(m)
	dialer := &relay.Dialer{
		ICEServers:       cfg.Relay.ICEServers,
		HandshakeTimeout: cfg.Relay.HandshakeTimeout,
		PingPeriod:       cfg.Relay.PingPeriod,
		ReadLimit:        cfg.Relay.ReadLimit,
	}
	ctrl := session.NewController(client, dialer,
		func(src core.ParticipantSource) { reg.Rebuild(src) }, reg.Clear, m)
	ctrl.PublicURL = cfg.Relay.PublicURL

	audioCtl := audio.NewControl(ctrl, m)
	ctrl.OnStateChange(func(st session.Status) {
		if st.State == domain.StateDisconnected {
			audioCtl.Reset()
		}
	})

	recorder := notes.NewRecorder(mic, client, notes.Options{
		SavedDelay: cfg.Notes.SavedDisplayDelay,
		TempDir:    cfg.Capture.TempDir,
		OnSaved: func(n domain.Note) {
			go publish(ctx, "note", func(ctx context.Context) error { return publisher.PublishNote(ctx, n) })
		},
	}, m)
	defer recorder.Close()

	wf := inspector.New(inspector.Deps{
		Detector:  client,
		Annotator: client,
		Similar:   client,
		Mic:       mic,
	}, inspector.Options{
		DetectFallback:   cfg.Inspector.DetectFallback,
		SimilarTopK:      cfg.Inspector.SimilarTopK,
		SimilarThreshold: cfg.Inspector.SimilarThreshold,
		TempDir:          cfg.Capture.TempDir,
		OnSaved: func(o domain.EmbeddedObject) {
			go publish(ctx, "annotation", func(ctx context.Context) error { return publisher.PublishAnnotation(ctx, o) })
		},
	}, m)
	defer wf.Close()

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Session:   ctrl,
		Streams:   reg,
		Audio:     audioCtl,
		Notes:     recorder,
		Inspector: wf,
		Objects:   client,
		Metrics:   m,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("module", "main").Str("addr", addr).Msg("fieldlink console started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	log.Info().Str("module", "main").Msg("shutting down")
	ctrl.Disconnect()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("server forced to shutdown")
	}
	log.Info().Str("module", "main").Msg("server exited gracefully")
	return nil
}

// setupEvents connects the MQTT publisher, or returns a no-op one when
// no broker is configured or reachable.
func setupEvents(cfg config.MQTTConfig) (core.EventPublisher, func()) {
	if cfg.Server == "" {
		return events.Nop{}, func() {}
	}
	mc := events.NewClient(events.Options{
		Server:      cfg.Server,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TopicPrefix: cfg.TopicPrefix,
		QoS:         cfg.QoS,
	})
	if err := events.Connect(mc, 3*time.Second); err != nil {
		log.Warn().Err(err).Str("module", "main").Str("broker", cfg.Server).Msg("mqtt unavailable, events disabled")
		return events.Nop{}, func() {}
	}
	p := events.NewPublisher(mc, cfg.TopicPrefix, cfg.QoS)
	p.Encoding = cfg.Encoding
	return p, p.Close
}

func publish(ctx context.Context, kind string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("module", "main").Str("event", kind).Msg("publish failed")
	}
}
