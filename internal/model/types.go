package model

import "time"

const (
	DefaultSource = "default"
	UnknownUser   = "Unknown"
)

// Built-in derived conditions.
const (
	ConditionPersonAbsent   = "person_absent"
	ConditionMultiplePerson = "multiple_person"
)

type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type Frame struct {
	Source     string      `json:"source"`
	Seq        uint64      `json:"seq,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
	Image      []byte      `json:"-"`
	ImageType  string      `json:"image_type,omitempty"`
	Ingest     string      `json:"ingest,omitempty"`
}

type State string

const (
	StateIdle         State = "idle"
	StateAccumulating State = "accumulating"
	StateTriggered    State = "triggered"
)

// Counter is the evidence held for one condition. WindowStart is meaningless
// while Count is zero.
type Counter struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	Armed       bool      `json:"armed"`
}

func (c Counter) State() State {
	if c.Count == 0 {
		return StateIdle
	}
	return StateAccumulating
}

type ConditionState struct {
	Source        string        `json:"source"`
	Condition     string        `json:"condition"`
	State         State         `json:"state"`
	Count         int           `json:"count"`
	Threshold     int           `json:"threshold"`
	ResetInterval time.Duration `json:"reset_interval"`
	WindowStart   *time.Time    `json:"window_start,omitempty"`
	Armed         bool          `json:"armed"`
}

type Episode struct {
	ID          string    `json:"id"`
	Condition   string    `json:"condition"`
	Cause       string    `json:"cause"`
	Message     string    `json:"message,omitempty"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	TriggeredBy string    `json:"triggered_by,omitempty"`
	Frames      int       `json:"frames"`
	Image       []byte    `json:"-"`
	ImageType   string    `json:"image_type,omitempty"`
}

// User returns the attributed user name, or UnknownUser.
func (e Episode) User() string {
	if e.TriggeredBy == "" {
		return UnknownUser
	}
	return e.TriggeredBy
}

func (e Episode) LogEntry() LogEntry {
	return LogEntry{TimeDetected: e.Timestamp, Cause: e.Cause, Name: e.User()}
}

type LogEntry struct {
	TimeDetected time.Time `json:"time_detected"`
	Cause        string    `json:"cause"`
	Name         string    `json:"name"`
}

type Prompt struct {
	Source    string    `json:"source"`
	Condition string    `json:"condition"`
	Message   string    `json:"message"`
	EpisodeID string    `json:"episode_id"`
	RaisedAt  time.Time `json:"raised_at"`
	Repeats   int       `json:"repeats"`
}

type Notice struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}
