package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"coderoom-backend/internal/model"
	"coderoom-backend/internal/runner"
	"coderoom-backend/internal/session"
)

// =============================================================================
// Event router - validate, authorize, apply, broadcast
// =============================================================================

// route is the single pipeline every inbound event goes through. Events
// for one session apply serially under the session mutex, so "last write
// wins" is decided by apply order at the server, not by client clocks.
func (h *RoomHub) route(cl *roomClient, env *Envelope) {
	if env.SessionID == "" {
		h.sendError(cl, "", CodeValidationError, "sessionId is required")
		return
	}

	switch env.Type {
	case EventJoinSession:
		h.handleJoin(cl, env)
		return
	case EventLeaveSession:
		h.handleLeave(cl, env)
		return
	}

	s, ok := h.store.Get(env.SessionID)
	if !ok {
		h.sendError(cl, env.SessionID, CodeSessionNotFound, "session does not exist")
		return
	}

	role, ok := s.Role(cl.UserID)
	if !ok {
		h.sendError(cl, env.SessionID, CodePermissionDenied, "join the session before sending events")
		return
	}
	if mutatingEvents[env.Type] && !role.CanEdit() {
		h.sendError(cl, env.SessionID, CodePermissionDenied, "viewers cannot modify the session")
		return
	}

	switch env.Type {
	case EventCodeChange:
		h.handleCodeChange(cl, s, env)
	case EventLanguageChange:
		h.handleLanguageChange(cl, s, env)
	case EventFileChange:
		h.handleFileChange(cl, s, env)
	case EventExecuteCode:
		h.handleExecuteCode(cl, s, env)
	case EventChatMessage:
		h.handleChatMessage(cl, s, env)
	case EventChatTyping, EventChatStopTyping:
		h.handleTyping(cl, s, env)
	case EventWhiteboardDraw:
		h.handleWhiteboardDraw(cl, s, env)
	case EventWhiteboardClear:
		h.handleWhiteboardClear(cl, s, env)
	case EventWhiteboardUndo:
		h.handleWhiteboardUndo(cl, s, env)
	case EventWhiteboardRedo:
		h.handleWhiteboardRedo(cl, s, env)
	case EventUpdateRole:
		h.handleUpdateRole(cl, s, env)
	case EventCursorPosition:
		h.handleCursorPosition(cl, s, env)
	default:
		h.sendError(cl, env.SessionID, CodeValidationError, "unknown event type: "+env.Type)
	}
}

// =============================================================================
// Lifecycle events
// =============================================================================

func (h *RoomHub) handleJoin(cl *roomClient, env *Envelope) {
	var payload JoinPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			h.sendError(cl, env.SessionID, CodeValidationError, "malformed join payload")
			return
		}
	}

	// one joined session per connection; switching rooms leaves the old one
	if cl.sessionID != "" && cl.sessionID != env.SessionID {
		h.handleLeave(cl, &Envelope{Type: EventLeaveSession, SessionID: cl.sessionID})
	}

	displayName := cl.DisplayName
	if payload.DisplayName != "" {
		displayName = payload.DisplayName
	}

	s, created := h.store.GetOrCreate(env.SessionID)
	p, seq, rejoined := s.Admit(cl.UserID, displayName, cl.ConnID)
	h.register(env.SessionID, cl)

	if created {
		log.Printf("[Room %s] Created by %s (%s)", s.ID, displayName, cl.UserID)
	}
	log.Printf("[Room %s] Joined: user=%s role=%s active=%d", s.ID, cl.UserID, p.Role, s.ActiveCount())

	h.sendTo(cl, &outEnvelope{
		Type:      EventSessionJoined,
		SessionID: s.ID,
		Payload: SessionJoinedPayload{
			Session:  s.Snapshot(h.cfg.Room.ChatTailSize),
			You:      p,
			Rejoined: rejoined,
		},
	})

	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      EventUsersUpdated,
		SessionID: s.ID,
		Seq:       seq,
		Payload:   UsersUpdatedPayload{Users: s.Participants()},
	})
}

func (h *RoomHub) handleLeave(cl *roomClient, env *Envelope) {
	if cl.sessionID != env.SessionID {
		h.sendError(cl, env.SessionID, CodeValidationError, "not joined to this session")
		return
	}

	s, ok := h.store.Get(env.SessionID)
	if !ok {
		h.unregister(cl)
		return
	}

	_, seq, ok := s.MarkInactive(cl.ConnID)
	if !ok {
		seq = s.NextSeq()
	}
	h.unregister(cl)
	log.Printf("[Room %s] Left: user=%s active=%d", s.ID, cl.UserID, s.ActiveCount())

	h.broadcastAll(s.ID, &outEnvelope{
		Type:      EventUsersUpdated,
		SessionID: s.ID,
		Seq:       seq,
		Payload:   UsersUpdatedPayload{Users: s.Participants()},
	})
}

// =============================================================================
// Code sync events
// =============================================================================

func (h *RoomHub) handleCodeChange(cl *roomClient, s *session.Session, env *Envelope) {
	var payload CodeChangePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.sendError(cl, s.ID, CodeValidationError, "malformed code payload")
		return
	}
	if h.cfg.Room.MaxCodeBytes > 0 && len(payload.Code) > h.cfg.Room.MaxCodeBytes {
		h.sendError(cl, s.ID, CodeValidationError, "code exceeds size limit")
		return
	}

	seq := s.SetCode(payload.Code)

	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      EventCodeChange,
		SessionID: s.ID,
		Seq:       seq,
		Payload:   payload,
	})
}

func (h *RoomHub) handleLanguageChange(cl *roomClient, s *session.Session, env *Envelope) {
	var payload LanguageChangePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.sendError(cl, s.ID, CodeValidationError, "malformed language payload")
		return
	}

	lang, ok := model.LookupLanguage(payload.Language)
	if !ok {
		h.sendError(cl, s.ID, CodeValidationError, "unknown language: "+payload.Language)
		return
	}

	code, seq := s.SetLanguage(lang, payload.Code)

	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      EventLanguageChange,
		SessionID: s.ID,
		Seq:       seq,
		Payload: struct {
			Language model.Language `json:"language"`
			Code     string         `json:"code"`
			Filename string         `json:"filename"`
		}{lang, code, s.Filename()},
	})
}

func (h *RoomHub) handleFileChange(cl *roomClient, s *session.Session, env *Envelope) {
	var payload FileChangePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.sendError(cl, s.ID, CodeValidationError, "malformed file payload")
		return
	}
	if payload.Filename == "" {
		h.sendError(cl, s.ID, CodeValidationError, "filename is required")
		return
	}

	var lang *model.Language
	if payload.Language != nil {
		l, ok := model.LookupLanguage(*payload.Language)
		if !ok {
			h.sendError(cl, s.ID, CodeValidationError, "unknown language: "+*payload.Language)
			return
		}
		lang = &l
	}

	seq := s.SetFile(payload.Filename, payload.Code, lang)

	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      EventFileChange,
		SessionID: s.ID,
		Seq:       seq,
		Payload: struct {
			Filename string         `json:"filename"`
			Code     string         `json:"code"`
			Language model.Language `json:"language"`
		}{payload.Filename, payload.Code, s.Language()},
	})
}

// =============================================================================
// Code execution
// =============================================================================

// handleExecuteCode dispatches the run on its own goroutine; the result
// comes back to the whole roster as a code-execution-result event, so a
// slow or hung run never holds up anyone's edits.
func (h *RoomHub) handleExecuteCode(cl *roomClient, s *session.Session, env *Envelope) {
	var payload ExecutePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.sendError(cl, s.ID, CodeValidationError, "malformed execute payload")
		return
	}

	lang, ok := model.LookupLanguage(payload.Language)
	if !ok {
		h.sendError(cl, s.ID, CodeValidationError, "unknown language: "+payload.Language)
		return
	}
	if h.cfg.Runner.MaxSourceBytes > 0 && len(payload.Code) > h.cfg.Runner.MaxSourceBytes {
		h.sendError(cl, s.ID, CodeValidationError, "source exceeds size limit")
		return
	}

	req := &runner.Request{
		Language: lang.Engine,
		Version:  lang.Version,
		Filename: s.Filename(),
		Source:   payload.Code,
		Stdin:    payload.Stdin,
	}
	requestID := uuid.New().String()
	sessionID := s.ID
	userID := cl.UserID

	go func() {
		started := time.Now()
		res, err := h.runner.Execute(context.Background(), req)

		result := model.ExecutionResult{
			RequestID:  requestID,
			UserID:     userID,
			Language:   lang.Engine,
			FinishedAt: time.Now(),
		}
		switch {
		case errors.Is(err, runner.ErrExecutionTimeout):
			result.Status = model.ExecutionStatusTimeout
			result.Stderr = "execution timed out"
			result.DurationMS = time.Since(started).Milliseconds()
		case err != nil:
			result.Status = model.ExecutionStatusError
			result.Stderr = err.Error()
			result.DurationMS = time.Since(started).Milliseconds()
		default:
			result.Status = model.ExecutionStatusOK
			result.Stdout = res.Stdout
			result.Stderr = res.Stderr
			result.ExitCode = res.ExitCode
			result.DurationMS = res.Duration.Milliseconds()
		}

		if h.cache != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := h.cache.AddExecution(ctx, sessionID, &result); err != nil {
				log.Printf("[Room %s] Failed to cache execution: %v", sessionID, err)
			}
		}

		cur, ok := h.store.Get(sessionID)
		if !ok {
			return
		}
		h.broadcastAll(sessionID, &outEnvelope{
			Type:      EventExecutionResult,
			SessionID: sessionID,
			Seq:       cur.NextSeq(),
			Payload:   result,
		})
	}()
}

// =============================================================================
// Chat events
// =============================================================================

func (h *RoomHub) handleChatMessage(cl *roomClient, s *session.Session, env *Envelope) {
	var payload ChatPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.sendError(cl, s.ID, CodeValidationError, "malformed chat payload")
		return
	}
	if payload.Text == "" {
		return
	}
	if h.cfg.Room.MaxChatBytes > 0 && len(payload.Text) > h.cfg.Room.MaxChatBytes {
		// back up to a rune start so the cut never leaves a broken
		// multi-byte character at the end
		cut := h.cfg.Room.MaxChatBytes
		for cut > 0 && !utf8.RuneStart(payload.Text[cut]) {
			cut--
		}
		payload.Text = payload.Text[:cut]
	}

	msg, seq := s.AppendChat(cl.UserID, cl.DisplayName, payload.Text)

	// the sender renders its own optimistic copy; never echo back
	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      EventChatMessage,
		SessionID: s.ID,
		Seq:       seq,
		Payload:   msg,
	})
}

func (h *RoomHub) handleTyping(cl *roomClient, s *session.Session, env *Envelope) {
	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      env.Type,
		SessionID: s.ID,
		Payload:   TypingPayload{UserID: cl.UserID, DisplayName: cl.DisplayName},
	})
}

// =============================================================================
// Whiteboard events
// =============================================================================

func (h *RoomHub) handleWhiteboardDraw(cl *roomClient, s *session.Session, env *Envelope) {
	var payload DrawPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.sendError(cl, s.ID, CodeValidationError, "malformed draw payload")
		return
	}
	if !payload.Element.Kind.Valid() {
		h.sendError(cl, s.ID, CodeValidationError, "unknown element kind")
		return
	}

	payload.Element.AuthorID = cl.UserID
	el, seq := s.AppendElement(payload.Element)

	// only the new element travels, never the whole history
	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      EventWhiteboardDraw,
		SessionID: s.ID,
		Seq:       seq,
		Payload:   DrawPayload{Element: el},
	})
}

func (h *RoomHub) handleWhiteboardClear(cl *roomClient, s *session.Session, env *Envelope) {
	seq := s.ClearBoard()

	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      EventWhiteboardClear,
		SessionID: s.ID,
		Seq:       seq,
	})
}

func (h *RoomHub) handleWhiteboardUndo(cl *roomClient, s *session.Session, env *Envelope) {
	// undo on an empty board is a quiet no-op
	el, seq, ok := s.UndoBoard()
	if !ok {
		return
	}

	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      EventWhiteboardUndo,
		SessionID: s.ID,
		Seq:       seq,
		Payload:   DrawPayload{Element: el},
	})
}

func (h *RoomHub) handleWhiteboardRedo(cl *roomClient, s *session.Session, env *Envelope) {
	el, seq, ok := s.RedoBoard()
	if !ok {
		return
	}

	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      EventWhiteboardRedo,
		SessionID: s.ID,
		Seq:       seq,
		Payload:   DrawPayload{Element: el},
	})
}

// =============================================================================
// Role and presence events
// =============================================================================

func (h *RoomHub) handleUpdateRole(cl *roomClient, s *session.Session, env *Envelope) {
	var payload UpdateRolePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.sendError(cl, s.ID, CodeValidationError, "malformed role payload")
		return
	}

	target, seq, err := s.SetRole(cl.UserID, payload.TargetUserID, payload.Role)
	switch {
	case errors.Is(err, session.ErrInvalidRole):
		h.sendError(cl, s.ID, CodeValidationError, "unknown role: "+payload.Role.String())
		return
	case errors.Is(err, session.ErrPermissionDenied):
		h.sendError(cl, s.ID, CodePermissionDenied, "only the owner can change roles")
		return
	case errors.Is(err, session.ErrParticipantNotFound):
		h.sendError(cl, s.ID, CodeValidationError, "target is not in the roster")
		return
	}

	log.Printf("[Room %s] Role updated: %s -> %s (by %s)", s.ID, target.UserID, target.Role, cl.UserID)

	// everyone needs the new roster, including the requester whose own
	// role may have changed by the owner handover rule
	h.broadcastAll(s.ID, &outEnvelope{
		Type:      EventRoleUpdated,
		SessionID: s.ID,
		Seq:       seq,
		Payload: RoleUpdatedPayload{
			UserID:    target.UserID,
			Role:      target.Role,
			UpdatedBy: cl.UserID,
			Users:     s.Participants(),
		},
	})
}

func (h *RoomHub) handleCursorPosition(cl *roomClient, s *session.Session, env *Envelope) {
	var payload CursorPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.sendError(cl, s.ID, CodeValidationError, "malformed cursor payload")
		return
	}

	// ephemeral: relayed, never stored, no seq
	h.broadcast(s.ID, cl.ConnID, &outEnvelope{
		Type:      EventCursorPosition,
		SessionID: s.ID,
		Payload:   CursorBroadcast{UserID: cl.UserID, Position: payload.Position},
	})
}
