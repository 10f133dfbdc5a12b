// Package backend talks to the detection, embedding and persistence API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/fieldlink/internal/domain"
)

// Timeouts bound each class of outbound call.
type Timeouts struct {
	Token   time.Duration
	Detect  time.Duration
	Embed   time.Duration
	Similar time.Duration
	Note    time.Duration
	List    time.Duration
}

// DefaultTokenPath is where the backend mounts manager token issuance.
const DefaultTokenPath = "/api/streaming/livekit/token/manager"

type Client struct {
	baseURL  string
	http     *http.Client
	timeouts Timeouts
	// TokenPath overrides DefaultTokenPath.
	TokenPath string
}

func NewClient(baseURL string, t Timeouts) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{},
		timeouts:  t,
		TokenPath: DefaultTokenPath,
	}
}

type tokenRequest struct {
	RoomName    domain.RoomName `json:"room_name"`
	Identity    domain.Identity `json:"identity"`
	DisplayName string          `json:"display_name,omitempty"`
}

func (c *Client) IssueToken(ctx context.Context, room domain.RoomName, identity domain.Identity, displayName string) (domain.RelayToken, error) {
	var tok domain.RelayToken
	path := c.TokenPath
	if path == "" {
		path = DefaultTokenPath
	}
	err := c.do(ctx, c.timeouts.Token, http.MethodPost, path,
		tokenRequest{RoomName: room, Identity: identity, DisplayName: displayName}, &tok)
	if err != nil {
		return domain.RelayToken{}, err
	}
	if tok.Token == "" {
		return domain.RelayToken{}, fmt.Errorf("%w: empty token", domain.ErrService)
	}
	return tok, nil
}

type detectRequest struct {
	ImageB64 string `json:"image_b64"`
	Prompt   string `json:"prompt,omitempty"`
}

func (c *Client) Detect(ctx context.Context, imageB64, prompt string) ([]domain.DetectionCandidate, error) {
	var out []domain.DetectionCandidate
	err := c.do(ctx, c.timeouts.Detect, http.MethodPost, "/api/embeddings/detect",
		detectRequest{ImageB64: domain.StripDataURI(imageB64), Prompt: prompt}, &out)
	return out, err
}

func (c *Client) Annotate(ctx context.Context, d domain.EmbeddedObjectDraft) (domain.EmbeddedObject, error) {
	d.FrameImage = domain.StripDataURI(d.FrameImage)
	d.AudioClip = domain.StripDataURI(d.AudioClip)
	var obj domain.EmbeddedObject
	err := c.do(ctx, c.timeouts.Embed, http.MethodPost, "/api/embeddings/embed", d, &obj)
	return obj, err
}

func (c *Client) Similar(ctx context.Context, q domain.SimilarQuery) ([]domain.SimilarResult, error) {
	q.FrameImage = domain.StripDataURI(q.FrameImage)
	var out []domain.SimilarResult
	err := c.do(ctx, c.timeouts.Similar, http.MethodPost, "/api/embeddings/similar", q, &out)
	return out, err
}

func (c *Client) CreateNote(ctx context.Context, d domain.NoteDraft) (domain.Note, error) {
	d.AudioClip = domain.StripDataURI(d.AudioClip)
	var n domain.Note
	err := c.do(ctx, c.timeouts.Note, http.MethodPost, "/api/notes", d, &n)
	return n, err
}

func (c *Client) ListByWorker(ctx context.Context, identity domain.Identity) ([]domain.EmbeddedObject, error) {
	var out []domain.EmbeddedObject
	err := c.do(ctx, c.timeouts.List, http.MethodGet, "/api/embeddings/worker/"+url.PathEscape(string(identity)), nil, &out)
	return out, err
}

func (c *Client) ListByFeed(ctx context.Context, feedID string) ([]domain.EmbeddedObject, error) {
	var out []domain.EmbeddedObject
	err := c.do(ctx, c.timeouts.List, http.MethodGet, "/api/embeddings/feed/"+url.PathEscape(feedID), nil, &out)
	return out, err
}

// do sends body as JSON and decodes a 2xx answer into out. Network
// failures wrap ErrTransport, non-2xx answers wrap ErrService.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, body, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger := log.With().Str("module", "backend").Str("path", path).Str("request_id", reqID).Logger()
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Error().Err(err).Dur("took", time.Since(start)).Msg("request failed")
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s timed out after %s", domain.ErrService, path, timeout)
		}
		return fmt.Errorf("%w: %s: %w", domain.ErrTransport, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := detail(resp.Body)
		logger.Warn().Int("status", resp.StatusCode).Str("detail", msg).Msg("backend error")
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrService, path, resp.StatusCode, msg)
	}
	logger.Debug().Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("request done")

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", domain.ErrService, path, err)
	}
	return nil
}

// detail extracts a FastAPI-style {"detail": "..."} message, falling back
// to the raw body.
func detail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(b, &body) == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		if d, err := json.Marshal(body.Detail); err == nil {
			return string(d)
		}
	}
	return strings.TrimSpace(string(b))
}
