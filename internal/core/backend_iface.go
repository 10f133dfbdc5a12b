package core

import (
	"context"

	"github.com/dkeye/fieldlink/internal/domain"
)

type TokenIssuer interface {
	IssueToken(ctx context.Context, room domain.RoomName, identity domain.Identity, displayName string) (domain.RelayToken, error)
}

type Detector interface {
	Detect(ctx context.Context, imageB64, prompt string) ([]domain.DetectionCandidate, error)
}

type Annotator interface {
	Annotate(ctx context.Context, draft domain.EmbeddedObjectDraft) (domain.EmbeddedObject, error)
}

type SimilaritySearcher interface {
	Similar(ctx context.Context, q domain.SimilarQuery) ([]domain.SimilarResult, error)
}

type NoteStore interface {
	CreateNote(ctx context.Context, draft domain.NoteDraft) (domain.Note, error)
}

type ObjectLister interface {
	ListByWorker(ctx context.Context, identity domain.Identity) ([]domain.EmbeddedObject, error)
	ListByFeed(ctx context.Context, feedID string) ([]domain.EmbeddedObject, error)
}

// EventPublisher fans persisted records out to other consumers.
type EventPublisher interface {
	PublishAnnotation(ctx context.Context, obj domain.EmbeddedObject) error
	PublishNote(ctx context.Context, note domain.Note) error
}
