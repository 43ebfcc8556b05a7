package ingest

import (
	"testing"

	"workwatch/internal/config"
	"workwatch/internal/normalize"
)

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("2026-01-02 10:00:00 cam1 phone=0.91 person=0.88")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Source != "cam1" {
		t.Fatalf("source: %s", fields.Source)
	}
	if fields.Timestamp != "2026-01-02 10:00:00" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
	if len(fields.Detections) != 2 || fields.Detections[0].Label != "phone" || fields.Detections[0].Confidence != 0.91 {
		t.Fatalf("detections: %+v", fields.Detections)
	}
}

func TestParsePlainKeys(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("source=desk2 seq=7 person=0.7")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Source != "desk2" || fields.Seq != "7" || fields.Timestamp != "" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if len(fields.Detections) != 1 {
		t.Fatalf("detections: %+v", fields.Detections)
	}
}

func TestParsePlainRejects(t *testing.T) {
	p := NewParser()
	if _, err := p.ParseLine("cam1 phone=high"); err == nil {
		t.Fatalf("expected confidence error")
	}
	if _, err := p.ParseLine("cam1 phone=0.9 stray"); err == nil {
		t.Fatalf("expected unexpected token error")
	}
}

func TestPlainNaNConfidenceRejected(t *testing.T) {
	fields, err := NewParser().ParseLine("2026-01-02 10:00:00 cam1 phone=NaN person=0.9")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := normalize.Normalize(*fields, config.DefaultConfig()); err == nil {
		t.Fatalf("expected NaN confidence to be rejected")
	}
}

func TestParseBlank(t *testing.T) {
	fields, err := NewParser().ParseLine("   \n")
	if err != nil || fields != nil {
		t.Fatalf("expected nil fields, got %+v %v", fields, err)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"camera":"cam2","seq":12,"timestamp":1767348000,"detections":[{"label":"drowsy","confidence":0.6}],"labels":["food"],"image":"aGk="}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Source != "cam2" || fields.Seq != "12" || fields.Timestamp != "1767348000" {
		t.Fatalf("json parse mismatch %+v", fields)
	}
	if len(fields.Detections) != 2 || fields.Detections[1].Label != "food" || fields.Detections[1].Confidence != 1 {
		t.Fatalf("detections: %+v", fields.Detections)
	}
	if fields.Image != "aGk=" {
		t.Fatalf("image: %q", fields.Image)
	}
}

func TestParseJSONList(t *testing.T) {
	list, err := ParseJSONList([]byte(` [{"source":"a"},{"source":"b","timestamp":"2026-01-02T10:00:00Z"}] `))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(list) != 2 || list[1].Timestamp != "2026-01-02T10:00:00Z" {
		t.Fatalf("unexpected list %+v", list)
	}
	if _, err := ParseJSONList([]byte("  ")); err == nil {
		t.Fatalf("expected error for empty body")
	}
}
