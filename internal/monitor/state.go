package monitor

import (
	"encoding/json"
	"fmt"
)

// State is the monitor's connection state machine position.
type State int

const (
	Idle State = iota
	Connecting
	Active
	Reconnecting
	Completed
	Closed
	Failed
)

var stateNames = map[State]string{
	Idle:         "idle",
	Connecting:   "connecting",
	Active:       "active",
	Reconnecting: "reconnecting",
	Completed:    "completed",
	Closed:       "closed",
	Failed:       "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no automatic action follows this state.
func (s State) Terminal() bool {
	return s == Completed || s == Closed || s == Failed
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is the training session status as derived from stream events.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusError      Status = "error"
	StatusCompleted  Status = "completed"
	StatusClosed     Status = "closed"
)

// Finished reports whether the run is over and must not be reconnected.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusClosed
}

// Level is the severity of a log line.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

var levelAliases = map[string]Level{
	"":        LevelInfo,
	"info":    LevelInfo,
	"debug":   LevelInfo,
	"warning": LevelWarning,
	"warn":    LevelWarning,
	"error":   LevelError,
	"danger":  LevelError,
	"success": LevelSuccess,
}

// ParseLevel maps a server level tag onto a Level, defaulting to info.
func ParseLevel(s string) Level {
	if l, ok := levelAliases[s]; ok {
		return l
	}
	return LevelInfo
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	*l = ParseLevel(s)
	return nil
}
