package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"workwatch/internal/model"
	"workwatch/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.]+(?:Z|[+-][0-9:]+)?)`)
	reKV        = regexp.MustCompile(`([A-Za-z][A-Za-z0-9_]*)=([^\s]+)`)
)

// Parser turns one line of text into frame fields. Lines are either JSON
// objects or plain text such as
//
//	2026-01-02 10:00:00 cam1 phone=0.91 person=0.88
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParseLine returns nil fields for blank lines.
func (p *Parser) ParseLine(line string) (*normalize.FrameFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		fields, err := ParseJSONBytes([]byte(trim))
		if err != nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	fields, err := parsePlain(trim)
	if err != nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) (*normalize.FrameFields, error) {
	fields := &normalize.FrameFields{}
	ts, rest := extractTimestamp(line)
	fields.Timestamp = ts

	for _, tok := range strings.Fields(rest) {
		m := reKV.FindStringSubmatch(tok)
		if m == nil || m[0] != tok {
			if fields.Source == "" && len(fields.Detections) == 0 {
				fields.Source = tok
				continue
			}
			return nil, fmt.Errorf("unexpected token %q", tok)
		}
		key, val := strings.ToLower(m[1]), m[2]
		switch key {
		case "source", "camera", "station":
			fields.Source = val
		case "seq":
			fields.Seq = val
		case "ts", "time", "timestamp":
			fields.Timestamp = val
		case "image_type":
			fields.ImageType = val
		default:
			conf, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("confidence for %q: %w", key, err)
			}
			fields.Detections = append(fields.Detections, model.Detection{Label: key, Confidence: conf})
		}
	}
	return fields, nil
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}
