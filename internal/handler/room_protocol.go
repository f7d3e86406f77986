package handler

import (
	"encoding/json"

	"coderoom-backend/internal/model"
)

// =============================================================================
// Room wire protocol
// =============================================================================

// Client -> server event types
const (
	EventJoinSession     = "join-session"
	EventLeaveSession    = "leave-session"
	EventCodeChange      = "code-change"
	EventLanguageChange  = "language-change"
	EventFileChange      = "file-change"
	EventExecuteCode     = "execute-code"
	EventChatMessage     = "chat-message"
	EventChatTyping      = "chat-typing"
	EventChatStopTyping  = "chat-stop-typing"
	EventWhiteboardDraw  = "whiteboard-draw"
	EventWhiteboardClear = "whiteboard-clear"
	EventWhiteboardUndo  = "whiteboard-undo"
	EventWhiteboardRedo  = "whiteboard-redo"
	EventUpdateRole      = "update-role"
	EventCursorPosition  = "cursor-position"
)

// Server -> client only event types
const (
	EventSessionJoined   = "session-joined"
	EventUsersUpdated    = "users-updated"
	EventRoleUpdated     = "role-updated"
	EventExecutionResult = "code-execution-result"
	EventError           = "error"
)

// Protocol error codes
const (
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeValidationError  = "VALIDATION_ERROR"
)

// Envelope is the frame every room event travels in. Seq is a per-session
// monotonically increasing counter stamped on server broadcasts so clients
// can detect reordering; inbound frames leave it zero.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// outEnvelope carries a typed payload on the way out
type outEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// JoinPayload join-session request; the durable userId comes from the
// authenticated socket, not the payload.
type JoinPayload struct {
	DisplayName string `json:"displayName,omitempty"`
}

// CodeChangePayload full-source replacement (last writer wins)
type CodeChangePayload struct {
	Code string `json:"code"`
}

// LanguageChangePayload switches the room language; Code overrides the
// boilerplate reset when set.
type LanguageChangePayload struct {
	Language string  `json:"language"`
	Code     *string `json:"code,omitempty"`
}

// FileChangePayload atomic filename+code(+language) swap
type FileChangePayload struct {
	Filename string  `json:"filename"`
	Code     string  `json:"code"`
	Language *string `json:"language,omitempty"`
}

// ExecutePayload execute-code request
type ExecutePayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"stdin,omitempty"`
}

// ChatPayload chat-message request
type ChatPayload struct {
	Text string `json:"text"`
}

// DrawPayload whiteboard-draw request
type DrawPayload struct {
	Element model.DrawElement `json:"element"`
}

// UpdateRolePayload update-role request (owner only)
type UpdateRolePayload struct {
	TargetUserID string     `json:"targetUserId"`
	Role         model.Role `json:"role"`
}

// CursorPayload ephemeral cursor broadcast; the geometry is opaque to the
// server and relayed verbatim.
type CursorPayload struct {
	Position json.RawMessage `json:"position"`
}

// SessionJoinedPayload session-joined reply: the full state snapshot plus
// the caller's own roster record.
type SessionJoinedPayload struct {
	Session  model.Snapshot    `json:"session"`
	You      model.Participant `json:"you"`
	Rejoined bool              `json:"rejoined"`
}

// UsersUpdatedPayload roster broadcast
type UsersUpdatedPayload struct {
	Users []model.Participant `json:"users"`
}

// RoleUpdatedPayload role-updated broadcast
type RoleUpdatedPayload struct {
	UserID    string              `json:"userId"`
	Role      model.Role          `json:"role"`
	UpdatedBy string              `json:"updatedBy"`
	Users     []model.Participant `json:"users"`
}

// TypingPayload chat typing indicator broadcast
type TypingPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// CursorBroadcast cursor-position broadcast
type CursorBroadcast struct {
	UserID   string          `json:"userId"`
	Position json.RawMessage `json:"position"`
}

// ErrorPayload error event, sent to the offending sender only
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mutatingEvents require role owner or editor. update-role has its own
// owner-only rule inside SetRole; chat, typing and cursor events are open
// to every role; join/leave need no role at all.
var mutatingEvents = map[string]bool{
	EventCodeChange:      true,
	EventLanguageChange:  true,
	EventFileChange:      true,
	EventExecuteCode:     true,
	EventWhiteboardDraw:  true,
	EventWhiteboardClear: true,
	EventWhiteboardUndo:  true,
	EventWhiteboardRedo:  true,
}
