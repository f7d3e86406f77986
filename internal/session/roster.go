package session

import (
	"errors"
	"sort"
	"time"

	"coderoom-backend/internal/model"
)

var (
	ErrPermissionDenied    = errors.New("requester role does not allow this operation")
	ErrParticipantNotFound = errors.New("participant not in roster")
	ErrInvalidRole         = errors.New("unknown role")
)

// Admit adds or reactivates a participant. The first participant of a
// fresh session becomes owner; a rejoining userId keeps its stored role;
// everyone else starts as viewer. The last return reports whether this
// was a rejoin of an existing record; the seq is assigned under the same
// lock for the roster broadcast.
func (s *Session) Admit(userID, displayName, connectionID string) (model.Participant, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.roster[userID]
	if ok {
		// Reconnect: the durable record keeps its role, only the socket
		// identity is replaced.
		p.ConnectionID = connectionID
		p.IsActive = true
		if displayName != "" {
			p.DisplayName = displayName
		}
	} else {
		role := model.RoleViewer
		if len(s.roster) == 0 {
			role = model.RoleOwner
		}
		p = &model.Participant{
			UserID:       userID,
			ConnectionID: connectionID,
			DisplayName:  displayName,
			Role:         role,
			IsActive:     true,
			JoinedAt:     time.Now(),
		}
		s.roster[userID] = p
	}
	s.touch()
	return *p, s.nextSeqLocked(), ok
}

// MarkInactive flags the participant owning the connection as offline.
// The record itself is kept so the role survives a reload.
func (s *Session) MarkInactive(connectionID string) (model.Participant, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.roster {
		if p.ConnectionID == connectionID && p.IsActive {
			p.IsActive = false
			p.ConnectionID = ""
			s.touch()
			return *p, s.nextSeqLocked(), true
		}
	}
	return model.Participant{}, 0, false
}

// SetRole changes the target's role. Only the current owner may do this.
// Promoting another participant to owner demotes the requester to editor
// in the same step, so a populated session always has exactly one owner.
func (s *Session) SetRole(requesterID, targetID string, role model.Role) (model.Participant, uint64, error) {
	if !role.Valid() {
		return model.Participant{}, 0, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	requester, ok := s.roster[requesterID]
	if !ok || requester.Role != model.RoleOwner {
		return model.Participant{}, 0, ErrPermissionDenied
	}
	target, ok := s.roster[targetID]
	if !ok {
		return model.Participant{}, 0, ErrParticipantNotFound
	}

	if role == model.RoleOwner && targetID != requesterID {
		requester.Role = model.RoleEditor
	}
	target.Role = role
	s.touch()
	return *target, s.nextSeqLocked(), nil
}

// Role looks up the current role of a userId.
func (s *Session) Role(userID string) (model.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.roster[userID]
	if !ok {
		return "", false
	}
	return p.Role, true
}

// Participant returns the roster record for a userId.
func (s *Session) Participant(userID string) (model.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.roster[userID]
	if !ok {
		return model.Participant{}, false
	}
	return *p, true
}

// Participants returns a roster snapshot ordered by join time.
func (s *Session) Participants() []model.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.participantsLocked()
}

func (s *Session) participantsLocked() []model.Participant {
	users := make([]model.Participant, 0, len(s.roster))
	for _, p := range s.roster {
		users = append(users, *p)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].UserID < users[j].UserID
		}
		return users[i].JoinedAt.Before(users[j].JoinedAt)
	})
	return users
}

// ActiveCount counts participants with a live connection.
func (s *Session) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.roster {
		if p.IsActive {
			n++
		}
	}
	return n
}
