package domain

type NoteDraft struct {
	CaptureContext
	Transcript string `json:"transcript,omitempty"`
	AudioClip  string `json:"audio_b64,omitempty"`
}

type Note struct {
	ID             string    `json:"id"`
	FeedID         string    `json:"feed_id"`
	SiteID         string    `json:"site_id"`
	WorkerIdentity Identity  `json:"worker_identity,omitempty"`
	Transcript     string    `json:"transcript,omitempty"`
	AudioClip      string    `json:"audio_b64,omitempty"`
	CreatedAt      Timestamp `json:"created_at"`
}
