package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"coderoom-backend/internal/model"
)

// Session holds the shared state of one collaboration room: the current
// source file, the chat log, the whiteboard and the participant roster.
// All mutation goes through its methods; the internal mutex makes every
// mutating event for a given room apply serially, which is what makes
// last-write-wins well-defined.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.RWMutex
	code       string
	filename   string
	language   model.Language
	chatLog    []model.ChatMessage
	board      []model.DrawElement
	redoStack  []model.DrawElement
	roster     map[string]*model.Participant // keyed by durable userId
	seq        uint64
	lastActive time.Time
}

// New creates an empty session for the given id. The initial language is
// the catalog default and the code starts as its boilerplate.
func New(id string) *Session {
	lang := model.DefaultLanguage()
	now := time.Now()

	return &Session{
		ID:         id,
		CreatedAt:  now,
		code:       model.Boilerplate(lang.Engine),
		filename:   lang.DefaultFilename(),
		language:   lang,
		roster:     make(map[string]*model.Participant),
		lastActive: now,
	}
}

// touch must be called with s.mu held.
func (s *Session) touch() {
	s.lastActive = time.Now()
}

// NextSeq returns the next per-session broadcast sequence number. Mutating
// methods stamp their own seq under the same lock as the mutation; this is
// for broadcasts that carry no session mutation of their own.
func (s *Session) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextSeqLocked()
}

// nextSeqLocked must be called with s.mu held.
func (s *Session) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// =============================================================================
// Code sync channel
// =============================================================================

// SetCode replaces the source wholesale (last writer wins). The returned
// seq is assigned under the same lock, so a higher seq always carries the
// newer code.
func (s *Session) SetCode(code string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.code = code
	s.touch()
	return s.nextSeqLocked()
}

// SetLanguage switches the room language. When code is nil the source is
// reset to the language's boilerplate; an explicit code payload overrides
// the reset.
func (s *Session) SetLanguage(lang model.Language, code *string) (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.language = lang
	if code != nil {
		s.code = *code
	} else {
		s.code = model.Boilerplate(lang.Engine)
	}
	s.filename = lang.DefaultFilename()
	s.touch()
	return s.code, s.nextSeqLocked()
}

// SetFile swaps filename, code and (optionally) language together so no
// observer ever sees the three fields disagree.
func (s *Session) SetFile(filename, code string, lang *model.Language) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filename = filename
	s.code = code
	if lang != nil {
		s.language = *lang
	}
	s.touch()
	return s.nextSeqLocked()
}

// Code returns the current source text.
func (s *Session) Code() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.code
}

// Language returns the current language.
func (s *Session) Language() model.Language {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.language
}

// Filename returns the current filename.
func (s *Session) Filename() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filename
}

// =============================================================================
// Chat channel
// =============================================================================

// AppendChat appends a message to the ordered chat log and returns the
// canonical record. The log is ephemeral: it lives only as long as the
// session does.
func (s *Session) AppendChat(userID, displayName, text string) (model.ChatMessage, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := model.ChatMessage{
		MessageID:   uuid.New().String(),
		UserID:      userID,
		DisplayName: displayName,
		Text:        text,
		SentAt:      time.Now(),
	}
	s.chatLog = append(s.chatLog, msg)
	s.touch()
	return msg, s.nextSeqLocked()
}

// ChatTail returns up to n most recent messages, oldest first.
func (s *Session) ChatTail(n int) []model.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.chatTailLocked(n)
}

func (s *Session) chatTailLocked(n int) []model.ChatMessage {
	start := 0
	if n > 0 && len(s.chatLog) > n {
		start = len(s.chatLog) - n
	}
	tail := make([]model.ChatMessage, len(s.chatLog)-start)
	copy(tail, s.chatLog[start:])
	return tail
}

// =============================================================================
// Whiteboard channel
// =============================================================================

// AppendElement pushes a drawing element onto the board. A missing
// elementId is assigned server-side. A fresh draw clears the redo stack.
func (s *Session) AppendElement(el model.DrawElement) (model.DrawElement, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el.ElementID == "" {
		el.ElementID = uuid.New().String()
	}
	s.board = append(s.board, el)
	s.redoStack = nil
	s.touch()
	return el, s.nextSeqLocked()
}

// ClearBoard empties the board and the redo stack.
func (s *Session) ClearBoard() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.board = nil
	s.redoStack = nil
	s.touch()
	return s.nextSeqLocked()
}

// UndoBoard pops the most recently appended element. Undo on an empty
// board is a no-op, not an error.
func (s *Session) UndoBoard() (model.DrawElement, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.board) == 0 {
		return model.DrawElement{}, 0, false
	}
	el := s.board[len(s.board)-1]
	s.board = s.board[:len(s.board)-1]
	s.redoStack = append(s.redoStack, el)
	s.touch()
	return el, s.nextSeqLocked(), true
}

// RedoBoard re-appends the most recently undone element. No-op when
// nothing was undone since the last draw or clear.
func (s *Session) RedoBoard() (model.DrawElement, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.redoStack) == 0 {
		return model.DrawElement{}, 0, false
	}
	el := s.redoStack[len(s.redoStack)-1]
	s.redoStack = s.redoStack[:len(s.redoStack)-1]
	s.board = append(s.board, el)
	s.touch()
	return el, s.nextSeqLocked(), true
}

// Board returns a copy of the current element sequence.
func (s *Session) Board() []model.DrawElement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	board := make([]model.DrawElement, len(s.board))
	copy(board, s.board)
	return board
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot captures the full current state for a newly joined participant.
// It is sent exactly once per successful join; individual historical events
// are never replayed.
func (s *Session) Snapshot(chatTail int) model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	board := make([]model.DrawElement, len(s.board))
	copy(board, s.board)

	return model.Snapshot{
		Code:       s.code,
		Filename:   s.filename,
		Language:   s.language,
		Whiteboard: board,
		ChatTail:   s.chatTailLocked(chatTail),
		Users:      s.participantsLocked(),
	}
}

// IdleFor returns how long ago the session last saw activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return time.Since(s.lastActive)
}
