package domain

type DetectionCandidate struct {
	BBox       BBox    `json:"bbox"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// EmbeddedObjectDraft is what the operator submits for persistence.
type EmbeddedObjectDraft struct {
	CaptureContext
	FrameImage   string `json:"frame_b64"`
	SelectedBBox BBox   `json:"bbox"`
	Label        string `json:"label"`
	NoteText     string `json:"note,omitempty"`
	AudioClip    string `json:"audio_b64,omitempty"`
}

// EmbeddedObject is immutable once persisted.
type EmbeddedObject struct {
	ID             string    `json:"id"`
	FeedID         string    `json:"feed_id"`
	SiteID         string    `json:"site_id"`
	WorkerIdentity Identity  `json:"worker_identity,omitempty"`
	CropImage      string    `json:"crop_b64"`
	BBox           BBox      `json:"bbox"`
	Label          string    `json:"label"`
	Note           string    `json:"note"`
	CreatedAt      Timestamp `json:"created_at"`
}

type SimilarQuery struct {
	FrameImage     string   `json:"frame_b64"`
	WorkerIdentity Identity `json:"worker_identity,omitempty"`
	FeedID         string   `json:"feed_id,omitempty"`
	TopK           int      `json:"top_k"`
	Threshold      float64  `json:"threshold"`
}

type SimilarResult struct {
	Object     EmbeddedObject `json:"embedded_object"`
	Similarity float64        `json:"similarity"`
}
