package model

import (
	"encoding/json"
	"time"
)

// Participant is a durable identity inside a room. The record outlives the
// socket: ConnectionID and IsActive are reset on every (re)connect while
// Role survives reloads.
type Participant struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"-"`
	DisplayName  string    `json:"displayName"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// ChatMessage immutable once appended
type ChatMessage struct {
	MessageID   string    `json:"messageId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sentAt"`
}

// DrawElement immutable once appended; removed only via board-level
// clear/undo, never edited individually.
type DrawElement struct {
	ElementID   string          `json:"elementId"`
	Kind        DrawKind        `json:"kind"`
	Geometry    json.RawMessage `json:"geometry"`
	Color       string          `json:"color,omitempty"`
	StrokeWidth float64         `json:"strokeWidth,omitempty"`
	AuthorID    string          `json:"authorId"`
}

// Snapshot is the full current room state sent exactly once per successful
// join, so a reconnecting client never replays individual events.
type Snapshot struct {
	Code       string        `json:"code"`
	Filename   string        `json:"filename"`
	Language   Language      `json:"language"`
	Whiteboard []DrawElement `json:"whiteboard"`
	ChatTail   []ChatMessage `json:"chatTail"`
	Users      []Participant `json:"users"`
}

// ExecutionResult outcome of an asynchronous code run
type ExecutionResult struct {
	RequestID  string          `json:"requestId"`
	UserID     string          `json:"userId"`
	Language   string          `json:"language"`
	Status     ExecutionStatus `json:"status"`
	Stdout     string          `json:"stdout"`
	Stderr     string          `json:"stderr"`
	ExitCode   int             `json:"exitCode"`
	DurationMS int64           `json:"durationMs"`
	FinishedAt time.Time       `json:"finishedAt"`
}
