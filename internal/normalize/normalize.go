package normalize

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"workwatch/internal/config"
	"workwatch/internal/model"
)

// FrameFields is a frame record as parsed from the wire, before validation.
type FrameFields struct {
	Source     string
	Seq        string
	Timestamp  string
	Detections []model.Detection
	Image      string
	ImageType  string
	Raw        string
}

func Normalize(fields FrameFields, cfg *config.Config) (model.Frame, error) {
	source := strings.TrimSpace(fields.Source)
	if source == "" {
		source = cfg.Ingest.Parser.DefaultSource
	}

	loc := time.Local
	if tz := cfg.Ingest.Parser.Timezone; tz != "" && tz != "Local" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	var ts time.Time
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Frame{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	var seq uint64
	if s := strings.TrimSpace(fields.Seq); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return model.Frame{}, fmt.Errorf("parse seq: %w", err)
		}
		seq = n
	}

	dets := make([]model.Detection, 0, len(fields.Detections))
	for _, d := range fields.Detections {
		label := strings.TrimSpace(d.Label)
		if label == "" {
			continue
		}
		if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
			return model.Frame{}, fmt.Errorf("confidence %v for %q out of range", d.Confidence, label)
		}
		dets = append(dets, model.Detection{Label: label, Confidence: d.Confidence})
	}

	var image []byte
	if fields.Image != "" {
		b, err := base64.StdEncoding.DecodeString(fields.Image)
		if err != nil {
			return model.Frame{}, fmt.Errorf("decode image: %w", err)
		}
		image = b
	}
	imageType := strings.ToLower(strings.TrimSpace(fields.ImageType))
	if len(image) > 0 && imageType == "" {
		imageType = "jpg"
	}

	return model.Frame{
		Source:     source,
		Seq:        seq,
		Timestamp:  ts,
		Detections: dets,
		Image:      image,
		ImageType:  imageType,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC 3339, the log's own "2006-01-02 15:04:05" form
// and unix seconds or milliseconds. Zone-less values are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if (ch < '0' || ch > '9') && ch != '.' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if strings.Contains(value, ".") {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return time.Time{}, err
		}
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), nil
	}
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
