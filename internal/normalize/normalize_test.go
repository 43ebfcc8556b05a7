package normalize

import (
	"math"
	"testing"
	"time"

	"workwatch/internal/config"
	"workwatch/internal/model"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Ingest.Parser.Timezone = "UTC"
	cfg.Ingest.Parser.DefaultSource = "desk"
	return cfg
}

func TestNormalizeDefaults(t *testing.T) {
	fr, err := Normalize(FrameFields{Detections: []model.Detection{{Label: " phone ", Confidence: 0.9}, {Label: ""}}}, testConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if fr.Source != "desk" {
		t.Fatalf("source: %s", fr.Source)
	}
	if !fr.Timestamp.IsZero() {
		t.Fatalf("expected zero timestamp, got %v", fr.Timestamp)
	}
	if len(fr.Detections) != 1 || fr.Detections[0].Label != "phone" {
		t.Fatalf("detections: %+v", fr.Detections)
	}
}

func TestNormalizeImageAndSeq(t *testing.T) {
	fr, err := Normalize(FrameFields{Source: "cam1", Seq: "42", Image: "aGVsbG8=", Timestamp: "2026-01-02 10:00:00"}, testConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if fr.Seq != 42 || string(fr.Image) != "hello" || fr.ImageType != "jpg" {
		t.Fatalf("unexpected frame %+v", fr)
	}
	want := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	if !fr.Timestamp.Equal(want) {
		t.Fatalf("timestamp %v want %v", fr.Timestamp, want)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cfg := testConfig()
	cases := []FrameFields{
		{Timestamp: "yesterday"},
		{Seq: "-1"},
		{Image: "***"},
		{Detections: []model.Detection{{Label: "phone", Confidence: 1.5}}},
		{Detections: []model.Detection{{Label: "phone", Confidence: math.NaN()}}},
		{Detections: []model.Detection{{Label: "phone", Confidence: math.Inf(1)}}},
		{Detections: []model.Detection{{Label: "phone", Confidence: math.Inf(-1)}}},
	}
	for i, c := range cases {
		if _, err := Normalize(c, cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestParseTimestampUnix(t *testing.T) {
	ts, err := ParseTimestamp("1767348000", time.UTC)
	if err != nil || ts.Unix() != 1767348000 {
		t.Fatalf("seconds: %v %v", ts, err)
	}
	ts, err = ParseTimestamp("1767348000500", time.UTC)
	if err != nil || ts.UnixMilli() != 1767348000500 {
		t.Fatalf("millis: %v %v", ts, err)
	}
	ts, err = ParseTimestamp("1767348000.25", time.UTC)
	if err != nil || ts.UnixMilli() != 1767348000250 {
		t.Fatalf("fractional: %v %v", ts, err)
	}
}
