package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"workwatch/internal/model"
	"workwatch/internal/normalize"
)

// wireFrame accepts the field spellings seen from detector bridges.
type wireFrame struct {
	Source     string            `json:"source"`
	Camera     string            `json:"camera"`
	Station    string            `json:"station"`
	Seq        json.RawMessage   `json:"seq"`
	Timestamp  json.RawMessage   `json:"timestamp"`
	Time       json.RawMessage   `json:"time"`
	Detections []model.Detection `json:"detections"`
	Labels     []string          `json:"labels"`
	Image      string            `json:"image"`
	ImageType  string            `json:"image_type"`
}

func ParseJSONBytes(data []byte) (*normalize.FrameFields, error) {
	var w wireFrame
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}
	return w.fields(), nil
}

func (w wireFrame) fields() *normalize.FrameFields {
	fields := &normalize.FrameFields{
		Source:     firstNonEmpty(w.Source, w.Camera, w.Station),
		Seq:        rawScalar(w.Seq),
		Timestamp:  firstNonEmpty(rawScalar(w.Timestamp), rawScalar(w.Time)),
		Detections: w.Detections,
		Image:      w.Image,
		ImageType:  w.ImageType,
	}
	// Bare labels are detections the bridge already thresholded.
	for _, l := range w.Labels {
		fields.Detections = append(fields.Detections, model.Detection{Label: l, Confidence: 1})
	}
	return fields
}

// ParseJSONList decodes a single frame object or an array of them.
func ParseJSONList(data []byte) ([]*normalize.FrameFields, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if trim[0] != '[' {
		f, err := ParseJSONBytes(trim)
		if err != nil {
			return nil, err
		}
		return []*normalize.FrameFields{f}, nil
	}
	var list []wireFrame
	if err := json.Unmarshal(trim, &list); err != nil {
		return nil, err
	}
	out := make([]*normalize.FrameFields, 0, len(list))
	for _, w := range list {
		out = append(out, w.fields())
	}
	return out, nil
}

func rawScalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
