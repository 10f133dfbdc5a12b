package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/fieldlink/internal/app/audio"
	"github.com/dkeye/fieldlink/internal/app/inspector"
	"github.com/dkeye/fieldlink/internal/app/notes"
	"github.com/dkeye/fieldlink/internal/app/session"
	"github.com/dkeye/fieldlink/internal/app/streams"
	"github.com/dkeye/fieldlink/internal/config"
	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/metrics"
)

// Deps are the components the operator API drives.
type Deps struct {
	Session   *session.Controller
	Streams   *streams.Registry
	Audio     *audio.Control
	Notes     *notes.Recorder
	Inspector *inspector.Workflow
	Objects   core.ObjectLister
	Metrics   *metrics.Metrics
}

type handlers struct {
	ctx     context.Context
	cfg     *config.Config
	deps    Deps
	connect *RateLimiter
	scan    *RateLimiter
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("FieldlinkSessions", store))
	r.Use(ClientTokenMiddleware())

	a := &handlers{
		ctx:     ctx,
		cfg:     cfg,
		deps:    deps,
		connect: NewRateLimiter(cfg.Limits.ConnectPerMinute, time.Minute),
		scan:    NewRateLimiter(cfg.Limits.ScanPerMinute, time.Minute),
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")

	api := r.Group("/api")

	sess := api.Group("/session")
	sess.GET("", a.getSession)
	sess.POST("/connect", Limit(a.connect, "connect"), a.postConnect)
	sess.POST("/disconnect", a.postDisconnect)

	api.GET("/streams", a.getStreams)
	api.GET("/ws/streams", a.handleStreamsWS)
	api.GET("/ws/track", a.handleTrackWS)

	au := api.Group("/audio")
	au.GET("", a.getAudio)
	au.POST("/toggle", a.postToggleMic)
	au.POST("/ptt/start", a.postPTTStart)
	au.POST("/ptt/stop", a.postPTTStop)

	nt := api.Group("/notes")
	nt.GET("", a.getNotes)
	nt.POST("/start", a.postNoteStart)
	nt.POST("/stop", a.postNoteStop)

	in := api.Group("/inspector")
	in.GET("", a.getInspector)
	in.POST("/open", a.postInspectorOpen)
	in.POST("/new", a.postInspectorNew)
	in.POST("/detect", Limit(a.scan, "scan"), a.postInspectorDetect)
	in.POST("/scan", Limit(a.scan, "scan"), a.postInspectorScan)
	in.POST("/select", a.postInspectorSelect)
	in.POST("/note", a.postInspectorNote)
	in.POST("/voice/start", a.postVoiceStart)
	in.POST("/voice/stop", a.postVoiceStop)
	in.POST("/voice/discard", a.postVoiceDiscard)
	in.POST("/submit", a.postInspectorSubmit)
	in.POST("/back", a.postInspectorBack)
	in.POST("/close", a.postInspectorClose)

	api.GET("/objects", a.getObjects)

	return r
}
