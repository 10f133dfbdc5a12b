package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"testing"
	"time"
)

func TestStripDataURI(t *testing.T) {
	cases := map[string]string{
		"data:image/jpeg;base64,QUJD": "QUJD",
		"data:audio/webm;base64,":     "",
		"QUJD":                        "QUJD",
		"":                            "",
	}
	for in, want := range cases {
		if got := StripDataURI(in); got != want {
			t.Errorf("StripDataURI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScaleBBox(t *testing.T) {
	b := BBox{100, 50, 300, 250}
	got := ScaleBBox(b, 960, 1920)
	if got != (BBox{50, 25, 150, 125}) {
		t.Fatalf("scaled = %v", got)
	}
	if ScaleBBox(b, 960, 0) != b {
		t.Fatal("zero natural width must leave the box untouched")
	}
}

func TestNaturalSize(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))); err != nil {
		t.Fatal(err)
	}
	f := NewFrame("data:image/png;base64,"+base64.StdEncoding.EncodeToString(buf.Bytes()), 0, 0)
	w, h, err := f.NaturalSize()
	if err != nil || w != 64 || h != 48 {
		t.Fatalf("size = %dx%d err=%v", w, h, err)
	}

	if _, _, err := NewFrame("not-an-image", 0, 0).NaturalSize(); err == nil {
		t.Fatal("expected error for garbage frame")
	}
}

func TestCaptureContextComplete(t *testing.T) {
	if (CaptureContext{FeedID: "f", SiteID: "s"}).Complete() {
		t.Fatal("missing worker should be incomplete")
	}
	if !(CaptureContext{FeedID: "f", SiteID: "s", WorkerIdentity: "w1"}).Complete() {
		t.Fatal("full triple should be complete")
	}
}

func TestNewParticipant(t *testing.T) {
	if _, err := NewParticipant("", "x"); err != ErrIdentityEmpty {
		t.Fatalf("err = %v", err)
	}
	p, err := NewParticipant("w1", "")
	if err != nil || p.Name != "w1" {
		t.Fatalf("p = %+v err = %v", p, err)
	}
}

func TestTimestampNaive(t *testing.T) {
	var obj EmbeddedObject
	if err := json.Unmarshal([]byte(`{"id":"1","created_at":"2025-03-01T10:20:30.123456"}`), &obj); err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 3, 1, 10, 20, 30, 123456000, time.UTC)
	if !obj.CreatedAt.Equal(want) {
		t.Fatalf("created_at = %v", obj.CreatedAt)
	}
	if err := json.Unmarshal([]byte(`{"created_at":"2025-03-01T10:20:30Z"}`), &obj); err != nil {
		t.Fatal(err)
	}
}

func TestDraftJSONFlattensContext(t *testing.T) {
	d := EmbeddedObjectDraft{
		CaptureContext: CaptureContext{FeedID: "f", SiteID: "s", WorkerIdentity: "w1"},
		FrameImage:     "QUJD",
		SelectedBBox:   BBox{1, 2, 3, 4},
		Label:          "hard hat",
	}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"feed_id", "site_id", "worker_identity", "frame_b64", "bbox", "label"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %q in %s", k, b)
		}
	}
	if _, ok := m["note"]; ok {
		t.Error("empty note should be omitted")
	}
}
