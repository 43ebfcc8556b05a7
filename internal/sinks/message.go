// Package sinks holds the episode consumers registered with the dispatcher.
package sinks

import (
	"encoding/json"
	"fmt"
	"time"

	"workwatch/internal/eventlog"
	"workwatch/internal/model"
)

// FormatMessage renders the remote notification text for ep.
func FormatMessage(ep model.Episode) string {
	return fmt.Sprintf("**Message From Remote Controller Bot**\n**Warning Triggered:**\nTime: %s\nCause: %s\nUser: %s",
		ep.Timestamp.Local().Format(eventlog.TimeLayout), ep.Cause, ep.User())
}

type episodePayload struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Condition string    `json:"condition"`
	Cause     string    `json:"cause"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Frames    int       `json:"frames"`
	HasImage  bool      `json:"has_image"`
}

// EpisodeJSON is the bus representation of ep. Images are not included.
func EpisodeJSON(ep model.Episode) ([]byte, error) {
	return json.Marshal(episodePayload{
		ID:        ep.ID,
		Source:    ep.Source,
		Condition: ep.Condition,
		Cause:     ep.Cause,
		User:      ep.User(),
		Timestamp: ep.Timestamp.UTC(),
		Frames:    ep.Frames,
		HasImage:  len(ep.Image) > 0,
	})
}
