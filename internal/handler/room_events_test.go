package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderoom-backend/internal/config"
	"coderoom-backend/internal/model"
	"coderoom-backend/internal/runner"
	"coderoom-backend/internal/session"
)

// mockConn records everything the hub writes to a connection.
type mockConn struct {
	mu       sync.Mutex
	messages [][]byte
	deadline time.Time
	closed   bool
	writeErr error
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.messages = append(m.messages, cp)
	return nil
}

func (m *mockConn) SetWriteDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = t
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) lastDeadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// received decodes every frame written so far.
func (m *mockConn) received(t *testing.T) []Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	envs := make([]Envelope, 0, len(m.messages))
	for _, raw := range m.messages {
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		envs = append(envs, env)
	}
	return envs
}

// lastOfType returns the most recent frame of the given type.
func (m *mockConn) lastOfType(t *testing.T, eventType string) (Envelope, bool) {
	t.Helper()
	envs := m.received(t)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == eventType {
			return envs[i], true
		}
	}
	return Envelope{}, false
}

func (m *mockConn) countOfType(t *testing.T, eventType string) int {
	t.Helper()
	n := 0
	for _, env := range m.received(t) {
		if env.Type == eventType {
			n++
		}
	}
	return n
}

func testConfig() *config.Config {
	return &config.Config{
		Runner: config.RunnerConfig{
			ExecuteTimeout: 2 * time.Second,
			MaxSourceBytes: 64 * 1024,
		},
		Room: config.RoomConfig{
			ChatTailSize: 50,
			MaxChatBytes: 100,
			MaxCodeBytes: 1024,
		},
		WebSocket: config.WebSocketConfig{
			WriteTimeout: time.Second,
		},
	}
}

func newTestHub(runnerClient *runner.Client) *RoomHub {
	return NewRoomHub(session.NewStore(), runnerClient, nil, testConfig())
}

// dispatch marshals a payload and routes it as an inbound frame.
func dispatch(t *testing.T, h *RoomHub, cl *roomClient, eventType, sessionID string, payload any) {
	t.Helper()
	env := &Envelope{Type: eventType, SessionID: sessionID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Payload = raw
	}
	h.route(cl, env)
}

// join connects a fake client and joins it to the session.
func join(t *testing.T, h *RoomHub, sessionID, userID, displayName string) (*roomClient, *mockConn) {
	t.Helper()
	mc := &mockConn{}
	cl := &roomClient{
		ConnID:       "conn-" + userID + "-" + sessionID,
		UserID:       userID,
		DisplayName:  displayName,
		conn:         mc,
		writeTimeout: h.cfg.WebSocket.WriteTimeout,
	}
	dispatch(t, h, cl, EventJoinSession, sessionID, JoinPayload{DisplayName: displayName})
	return cl, mc
}

func TestJoinSendsSnapshotAndRole(t *testing.T) {
	h := newTestHub(nil)

	_, mc1 := join(t, h, "room-1", "u1", "Alice")

	env, ok := mc1.lastOfType(t, EventSessionJoined)
	require.True(t, ok)

	var joined SessionJoinedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &joined))
	assert.Equal(t, model.RoleOwner, joined.You.Role)
	assert.False(t, joined.Rejoined)
	assert.NotEmpty(t, joined.Session.Code)
	assert.Equal(t, "python", joined.Session.Language.Engine)

	_, mc2 := join(t, h, "room-1", "u2", "Bob")

	env, ok = mc2.lastOfType(t, EventSessionJoined)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(env.Payload, &joined))
	assert.Equal(t, model.RoleViewer, joined.You.Role)

	// the first joiner hears about the roster change, not a new snapshot
	env, ok = mc1.lastOfType(t, EventUsersUpdated)
	require.True(t, ok)
	var users UsersUpdatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &users))
	assert.Len(t, users.Users, 2)
	assert.Equal(t, 1, mc1.countOfType(t, EventSessionJoined))
}

func TestViewerCannotMutate(t *testing.T) {
	h := newTestHub(nil)
	join(t, h, "room-1", "u1", "Alice")
	viewer, vc := join(t, h, "room-1", "u2", "Bob")

	dispatch(t, h, viewer, EventCodeChange, "room-1", CodeChangePayload{Code: "print('nope')"})

	env, ok := vc.lastOfType(t, EventError)
	require.True(t, ok)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errPayload))
	assert.Equal(t, CodePermissionDenied, errPayload.Code)

	s, _ := h.store.Get("room-1")
	assert.NotEqual(t, "print('nope')", s.Code())
}

func TestPromoteThenEdit(t *testing.T) {
	h := newTestHub(nil)
	owner, oc := join(t, h, "room-1", "u1", "Alice")
	editor, ec := join(t, h, "room-1", "u2", "Bob")

	dispatch(t, h, owner, EventUpdateRole, "room-1", UpdateRolePayload{
		TargetUserID: "u2",
		Role:         model.RoleEditor,
	})

	// role-updated reaches everyone, requester included
	env, ok := oc.lastOfType(t, EventRoleUpdated)
	require.True(t, ok)
	var updated RoleUpdatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &updated))
	assert.Equal(t, "u2", updated.UserID)
	assert.Equal(t, model.RoleEditor, updated.Role)
	assert.Equal(t, "u1", updated.UpdatedBy)

	_, ok = ec.lastOfType(t, EventRoleUpdated)
	assert.True(t, ok)

	dispatch(t, h, editor, EventCodeChange, "room-1", CodeChangePayload{Code: "print('yes')"})

	s, _ := h.store.Get("room-1")
	assert.Equal(t, "print('yes')", s.Code())

	// the change reaches the other participant, never the sender
	env, ok = oc.lastOfType(t, EventCodeChange)
	require.True(t, ok)
	var code CodeChangePayload
	require.NoError(t, json.Unmarshal(env.Payload, &code))
	assert.Equal(t, "print('yes')", code.Code)
	assert.Equal(t, 0, ec.countOfType(t, EventCodeChange))
}

func TestOwnerHandoverBroadcastsBothChanges(t *testing.T) {
	h := newTestHub(nil)
	owner, _ := join(t, h, "room-1", "u1", "Alice")
	_, ec := join(t, h, "room-1", "u2", "Bob")

	dispatch(t, h, owner, EventUpdateRole, "room-1", UpdateRolePayload{
		TargetUserID: "u2",
		Role:         model.RoleOwner,
	})

	env, ok := ec.lastOfType(t, EventRoleUpdated)
	require.True(t, ok)
	var updated RoleUpdatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &updated))

	// the roster in the broadcast reflects the handover atomically
	roles := map[string]model.Role{}
	for _, u := range updated.Users {
		roles[u.UserID] = u.Role
	}
	assert.Equal(t, model.RoleEditor, roles["u1"])
	assert.Equal(t, model.RoleOwner, roles["u2"])
}

func TestChatMessageNotEchoed(t *testing.T) {
	h := newTestHub(nil)
	_, oc := join(t, h, "room-1", "u1", "Alice")
	sender, sc := join(t, h, "room-1", "u2", "Bob")

	dispatch(t, h, sender, EventChatMessage, "room-1", ChatPayload{Text: "hello room"})

	env, ok := oc.lastOfType(t, EventChatMessage)
	require.True(t, ok)
	var msg model.ChatMessage
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Equal(t, "hello room", msg.Text)
	assert.Equal(t, "u2", msg.UserID)
	assert.NotEmpty(t, msg.MessageID)

	assert.Equal(t, 0, sc.countOfType(t, EventChatMessage))
}

func TestChatTruncatedAtRuneBoundary(t *testing.T) {
	h := newTestHub(nil)
	_, oc := join(t, h, "room-1", "u1", "Alice")
	sender, _ := join(t, h, "room-1", "u2", "Bob")

	// 99 ascii bytes plus a 3-byte rune straddles the 100-byte limit
	text := strings.Repeat("a", 99) + "한"
	dispatch(t, h, sender, EventChatMessage, "room-1", ChatPayload{Text: text})

	env, ok := oc.lastOfType(t, EventChatMessage)
	require.True(t, ok)
	var msg model.ChatMessage
	require.NoError(t, json.Unmarshal(env.Payload, &msg))

	assert.Equal(t, strings.Repeat("a", 99), msg.Text)
	assert.True(t, utf8.ValidString(msg.Text), "truncation must not split a rune")
}

func TestChatTailDeliveredOnJoin(t *testing.T) {
	h := newTestHub(nil)
	sender, _ := join(t, h, "room-1", "u1", "Alice")

	for i := 0; i < 3; i++ {
		dispatch(t, h, sender, EventChatMessage, "room-1", ChatPayload{Text: "msg"})
	}

	_, mc := join(t, h, "room-1", "u2", "Bob")
	env, ok := mc.lastOfType(t, EventSessionJoined)
	require.True(t, ok)

	var joined SessionJoinedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &joined))
	assert.Len(t, joined.Session.ChatTail, 3)
}

func TestEventsRequireJoin(t *testing.T) {
	h := newTestHub(nil)
	join(t, h, "room-1", "u1", "Alice")

	outsider := &roomClient{ConnID: "conn-x", UserID: "u9", DisplayName: "Eve", conn: &mockConn{}}
	mc := outsider.conn.(*mockConn)

	dispatch(t, h, outsider, EventCodeChange, "room-1", CodeChangePayload{Code: "x"})

	env, ok := mc.lastOfType(t, EventError)
	require.True(t, ok)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errPayload))
	assert.Equal(t, CodePermissionDenied, errPayload.Code)
}

func TestUnknownSessionRejected(t *testing.T) {
	h := newTestHub(nil)

	cl := &roomClient{ConnID: "conn-1", UserID: "u1", DisplayName: "Alice", conn: &mockConn{}}
	mc := cl.conn.(*mockConn)

	dispatch(t, h, cl, EventCodeChange, "no-such-room", CodeChangePayload{Code: "x"})

	env, ok := mc.lastOfType(t, EventError)
	require.True(t, ok)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errPayload))
	assert.Equal(t, CodeSessionNotFound, errPayload.Code)
}

func TestLastWriteWins(t *testing.T) {
	h := newTestHub(nil)
	owner, _ := join(t, h, "room-1", "u1", "Alice")

	dispatch(t, h, owner, EventCodeChange, "room-1", CodeChangePayload{Code: "v1"})
	dispatch(t, h, owner, EventCodeChange, "room-1", CodeChangePayload{Code: "v2"})

	s, _ := h.store.Get("room-1")
	assert.Equal(t, "v2", s.Code())
}

func TestLanguageChangeSeedsBoilerplate(t *testing.T) {
	h := newTestHub(nil)
	owner, _ := join(t, h, "room-1", "u1", "Alice")
	_, mc := join(t, h, "room-1", "u2", "Bob")

	dispatch(t, h, owner, EventLanguageChange, "room-1", LanguageChangePayload{Language: "go"})

	env, ok := mc.lastOfType(t, EventLanguageChange)
	require.True(t, ok)

	var payload struct {
		Language model.Language `json:"language"`
		Code     string         `json:"code"`
		Filename string         `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "go", payload.Language.Engine)
	assert.Equal(t, model.Boilerplate("go"), payload.Code)
	assert.Equal(t, "main.go", payload.Filename)
}

func TestWhiteboardUndoOnEmptyIsQuiet(t *testing.T) {
	h := newTestHub(nil)
	owner, oc := join(t, h, "room-1", "u1", "Alice")
	_, mc := join(t, h, "room-1", "u2", "Bob")

	before := len(mc.received(t))
	dispatch(t, h, owner, EventWhiteboardUndo, "room-1", nil)

	assert.Len(t, mc.received(t), before, "no broadcast for an empty undo")
	assert.Equal(t, 0, oc.countOfType(t, EventError), "no error for an empty undo")
}

func TestWhiteboardDrawRoundTrip(t *testing.T) {
	h := newTestHub(nil)
	owner, _ := join(t, h, "room-1", "u1", "Alice")
	_, mc := join(t, h, "room-1", "u2", "Bob")

	dispatch(t, h, owner, EventWhiteboardDraw, "room-1", DrawPayload{
		Element: model.DrawElement{
			Kind:     model.DrawKindPen,
			Geometry: json.RawMessage(`{"points":[[0,0],[5,5]]}`),
		},
	})

	env, ok := mc.lastOfType(t, EventWhiteboardDraw)
	require.True(t, ok)
	var draw DrawPayload
	require.NoError(t, json.Unmarshal(env.Payload, &draw))
	assert.NotEmpty(t, draw.Element.ElementID)
	assert.Equal(t, "u1", draw.Element.AuthorID)

	s, _ := h.store.Get("room-1")
	assert.Len(t, s.Board(), 1)
}

func TestBroadcastSeqMonotonic(t *testing.T) {
	h := newTestHub(nil)
	owner, _ := join(t, h, "room-1", "u1", "Alice")
	_, mc := join(t, h, "room-1", "u2", "Bob")

	dispatch(t, h, owner, EventCodeChange, "room-1", CodeChangePayload{Code: "a"})
	dispatch(t, h, owner, EventChatMessage, "room-1", ChatPayload{Text: "hi"})
	dispatch(t, h, owner, EventWhiteboardClear, "room-1", nil)

	var last uint64
	for _, env := range mc.received(t) {
		if env.Seq == 0 {
			continue
		}
		assert.Greater(t, env.Seq, last)
		last = env.Seq
	}
	assert.NotZero(t, last)
}

func TestSendStampsWriteDeadline(t *testing.T) {
	h := newTestHub(nil)
	_, mc := join(t, h, "room-1", "u1", "Alice")

	assert.False(t, mc.lastDeadline().IsZero(), "every frame must carry a write deadline")
	assert.True(t, mc.lastDeadline().After(time.Now().Add(-time.Minute)))
}

func TestStalledWriterDroppedOthersServed(t *testing.T) {
	h := newTestHub(nil)
	owner, _ := join(t, h, "room-1", "u1", "Alice")
	_, stuck := join(t, h, "room-1", "u2", "Bob")
	_, healthy := join(t, h, "room-1", "u3", "Carol")

	// the socket stops accepting frames, as a timed-out write reports
	stuck.mu.Lock()
	stuck.writeErr = errors.New("write: i/o timeout")
	stuck.mu.Unlock()

	dispatch(t, h, owner, EventCodeChange, "room-1", CodeChangePayload{Code: "print('on')"})

	env, ok := healthy.lastOfType(t, EventCodeChange)
	require.True(t, ok)
	var code CodeChangePayload
	require.NoError(t, json.Unmarshal(env.Payload, &code))
	assert.Equal(t, "print('on')", code.Code)

	assert.True(t, stuck.isClosed(), "a failed write must close the connection")
	assert.False(t, healthy.isClosed())
}

func TestReconnectRestoresRole(t *testing.T) {
	h := newTestHub(nil)
	owner, _ := join(t, h, "room-1", "u1", "Alice")
	member, _ := join(t, h, "room-1", "u2", "Bob")

	dispatch(t, h, owner, EventUpdateRole, "room-1", UpdateRolePayload{
		TargetUserID: "u2",
		Role:         model.RoleEditor,
	})

	// transport drop
	h.disconnect(member)

	// same durable userId, fresh socket
	mc := &mockConn{}
	again := &roomClient{ConnID: "conn-u2-next", UserID: "u2", DisplayName: "Bob", conn: mc}
	dispatch(t, h, again, EventJoinSession, "room-1", JoinPayload{DisplayName: "Bob"})

	env, ok := mc.lastOfType(t, EventSessionJoined)
	require.True(t, ok)
	var joined SessionJoinedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &joined))
	assert.True(t, joined.Rejoined)
	assert.Equal(t, model.RoleEditor, joined.You.Role)
}

func TestLeaveBroadcastsRoster(t *testing.T) {
	h := newTestHub(nil)
	_, oc := join(t, h, "room-1", "u1", "Alice")
	member, _ := join(t, h, "room-1", "u2", "Bob")

	dispatch(t, h, member, EventLeaveSession, "room-1", nil)

	env, ok := oc.lastOfType(t, EventUsersUpdated)
	require.True(t, ok)
	var users UsersUpdatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &users))

	require.Len(t, users.Users, 2, "the record survives leaving")
	for _, u := range users.Users {
		if u.UserID == "u2" {
			assert.False(t, u.IsActive)
		}
	}
}

func TestExecuteCodeBroadcastsResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"run":{"stdout":"42\n","stderr":"","code":0}}`))
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.Runner.BaseURL = ts.URL
	runnerClient := runner.NewClient(&cfg.Runner)
	h := NewRoomHub(session.NewStore(), runnerClient, nil, cfg)

	owner, oc := join(t, h, "room-1", "u1", "Alice")

	dispatch(t, h, owner, EventExecuteCode, "room-1", ExecutePayload{
		Code:     "print(42)",
		Language: "python",
	})

	// the run is asynchronous
	require.Eventually(t, func() bool {
		_, ok := oc.lastOfType(t, EventExecutionResult)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	env, _ := oc.lastOfType(t, EventExecutionResult)
	var result model.ExecutionResult
	require.NoError(t, json.Unmarshal(env.Payload, &result))
	assert.Equal(t, model.ExecutionStatusOK, result.Status)
	assert.Equal(t, "42\n", result.Stdout)
	assert.Equal(t, "u1", result.UserID)
	assert.NotEmpty(t, result.RequestID)
}

func TestExecuteUnknownLanguageRejected(t *testing.T) {
	h := newTestHub(nil)
	owner, oc := join(t, h, "room-1", "u1", "Alice")

	dispatch(t, h, owner, EventExecuteCode, "room-1", ExecutePayload{
		Code:     "whatever",
		Language: "cobol",
	})

	env, ok := oc.lastOfType(t, EventError)
	require.True(t, ok)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errPayload))
	assert.Equal(t, CodeValidationError, errPayload.Code)
}
