package http

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/dkeye/fieldlink/internal/domain"
)

const (
	sessIdentity    = "identity"
	sessDisplayName = "display_name"
)

type ConnectRequest struct {
	Room        string `json:"room"`
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
}

type CaptureRequest struct {
	FeedID         string `json:"feed_id"`
	SiteID         string `json:"site_id"`
	WorkerIdentity string `json:"worker_identity"`
}

func (r CaptureRequest) context() domain.CaptureContext {
	return domain.CaptureContext{
		FeedID:         r.FeedID,
		SiteID:         r.SiteID,
		WorkerIdentity: domain.Identity(r.WorkerIdentity),
	}
}

type OpenRequest struct {
	CaptureRequest
	Image  string `json:"image_b64"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (a *handlers) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, a.deps.Session.Status())
}

// postConnect joins a room. Identity and display name fall back to the
// values remembered in the operator's cookie session, then to config.
func (a *handlers) postConnect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	room := strings.TrimSpace(req.Room)
	if room == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing room"})
		return
	}

	s := sessions.Default(c)
	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		identity, _ = s.Get(sessIdentity).(string)
	}
	if identity == "" {
		identity = a.cfg.Identity
	}
	display := strings.TrimSpace(req.DisplayName)
	if display == "" {
		display, _ = s.Get(sessDisplayName).(string)
	}
	p, err := domain.NewParticipant(domain.Identity(identity), display)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// the session and its backend calls outlive the request
	if err := a.deps.Session.Connect(a.ctx, domain.RoomName(room), p.Identity, p.Name); err != nil {
		abortWithError(c, err)
		return
	}
	s.Set(sessIdentity, string(p.Identity))
	s.Set(sessDisplayName, p.Name)
	_ = s.Save()

	c.JSON(http.StatusOK, a.deps.Session.Status())
}

func (a *handlers) postDisconnect(c *gin.Context) {
	a.deps.Audio.Reset()
	a.deps.Session.Disconnect()
	c.JSON(http.StatusOK, a.deps.Session.Status())
}

func (a *handlers) getStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streams": streamViews(a.deps.Streams.Snapshot())})
}

func (a *handlers) getAudio(c *gin.Context) {
	c.JSON(http.StatusOK, a.deps.Audio.Status())
}

func (a *handlers) postToggleMic(c *gin.Context) {
	a.deps.Audio.ToggleMic(a.ctx)
	c.JSON(http.StatusOK, a.deps.Audio.Status())
}

func (a *handlers) postPTTStart(c *gin.Context) {
	a.deps.Audio.StartTalking(a.ctx)
	c.JSON(http.StatusOK, a.deps.Audio.Status())
}

func (a *handlers) postPTTStop(c *gin.Context) {
	a.deps.Audio.StopTalking(a.ctx)
	c.JSON(http.StatusOK, a.deps.Audio.Status())
}

func (a *handlers) getNotes(c *gin.Context) {
	c.JSON(http.StatusOK, a.deps.Notes.State())
}

func (a *handlers) postNoteStart(c *gin.Context) {
	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	// capture outlives the request
	if err := a.deps.Notes.Start(a.ctx, req.context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.deps.Notes.State())
}

func (a *handlers) postNoteStop(c *gin.Context) {
	note, err := a.deps.Notes.Stop(a.ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": note, "state": a.deps.Notes.State()})
}

func (a *handlers) getInspector(c *gin.Context) {
	c.JSON(http.StatusOK, a.deps.Inspector.State())
}

func (a *handlers) postInspectorOpen(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing frame"})
		return
	}
	a.deps.Inspector.Open(domain.NewFrame(req.Image, req.Width, req.Height), req.context())
	c.JSON(http.StatusOK, a.deps.Inspector.State())
}

func (a *handlers) postInspectorNew(c *gin.Context) {
	a.inspectorResult(c, a.deps.Inspector.EnterNew())
}

func (a *handlers) postInspectorDetect(c *gin.Context) {
	a.inspectorResult(c, a.deps.Inspector.EnterDetect(a.ctx))
}

func (a *handlers) postInspectorScan(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	// body is optional
	_ = c.ShouldBindJSON(&req)
	a.inspectorResult(c, a.deps.Inspector.Scan(a.ctx, req.Prompt))
}

func (a *handlers) postInspectorSelect(c *gin.Context) {
	var req struct {
		Index *int `json:"index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Index == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing index"})
		return
	}
	a.inspectorResult(c, a.deps.Inspector.Select(*req.Index))
}

func (a *handlers) postInspectorNote(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	a.inspectorResult(c, a.deps.Inspector.SetNote(req.Text))
}

func (a *handlers) postVoiceStart(c *gin.Context) {
	a.inspectorResult(c, a.deps.Inspector.StartVoiceNote(a.ctx))
}

func (a *handlers) postVoiceStop(c *gin.Context) {
	a.inspectorResult(c, a.deps.Inspector.StopVoiceNote())
}

func (a *handlers) postVoiceDiscard(c *gin.Context) {
	a.deps.Inspector.DiscardVoiceNote()
	c.JSON(http.StatusOK, a.deps.Inspector.State())
}

func (a *handlers) postInspectorSubmit(c *gin.Context) {
	obj, err := a.deps.Inspector.Submit(a.ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": obj, "state": a.deps.Inspector.State()})
}

func (a *handlers) postInspectorBack(c *gin.Context) {
	a.deps.Inspector.Back()
	c.JSON(http.StatusOK, a.deps.Inspector.State())
}

func (a *handlers) postInspectorClose(c *gin.Context) {
	a.deps.Inspector.Close()
	c.JSON(http.StatusOK, a.deps.Inspector.State())
}

func (a *handlers) inspectorResult(c *gin.Context, err error) {
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.deps.Inspector.State())
}

// getObjects lists embedded objects for ?worker= or ?feed=.
func (a *handlers) getObjects(c *gin.Context) {
	if a.deps.Objects == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "object listing unavailable"})
		return
	}
	var (
		objs []domain.EmbeddedObject
		err  error
	)
	switch {
	case c.Query("worker") != "":
		objs, err = a.deps.Objects.ListByWorker(c.Request.Context(), domain.Identity(c.Query("worker")))
	case c.Query("feed") != "":
		objs, err = a.deps.Objects.ListByFeed(c.Request.Context(), c.Query("feed"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker or feed required"})
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	if objs == nil {
		objs = []domain.EmbeddedObject{}
	}
	c.JSON(http.StatusOK, gin.H{"objects": objs})
}
