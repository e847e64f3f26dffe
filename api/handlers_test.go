package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Real-vivek09/collabkart/auth"
	"github.com/Real-vivek09/collabkart/directory"
	"github.com/Real-vivek09/collabkart/notify"
	"github.com/Real-vivek09/collabkart/store"
)

type fakeProducer struct {
	mu      sync.Mutex
	notices []*notify.Notice
	err     error
}

func (p *fakeProducer) Publish(ctx context.Context, n *notify.Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
	return p.err
}

type fixture struct {
	router   *gin.Engine
	store    store.MessageStore
	producer *fakeProducer
	dir      *directory.StaticClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	dir := directory.NewStaticClient(
		&directory.Profile{UID: "u1", Name: "Alice"},
		&directory.Profile{UID: "u2", Name: "Bob", PushToken: "tok-2"},
	)
	producer := &fakeProducer{}
	server := NewServer(st, dir, producer, &auth.MockVerifier{})

	return &fixture{
		router:   NewRouter(server, http.NotFoundHandler(), true),
		store:    st,
		producer: producer,
		dir:      dir,
	}
}

func doJSON(t *testing.T, f *fixture, method, target, uid, name string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if uid != "" {
		req.AddCookie(&http.Cookie{Name: "x-uid", Value: uid})
	}
	if name != "" {
		req.AddCookie(&http.Cookie{Name: "x-name", Value: name})
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)

	w := doJSON(t, f, http.MethodPost, "/api/messages", "u1", "Alice",
		gin.H{"receiverUid": "u2", "content": "hi", "projectId": "p42"})
	require.Equal(t, http.StatusCreated, w.Code)

	var msg store.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, [2]string{"u1", "u2"}, msg.Participants)
	assert.Equal(t, "u1", msg.Sender)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "p42", msg.ProjectID)
	assert.NotZero(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	require.Len(t, f.producer.notices, 1)
	n := f.producer.notices[0]
	assert.Equal(t, "u2", n.Recipient)
	assert.Equal(t, "Alice", n.SenderName)
	assert.Equal(t, msg.ID, n.Message.ID)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)

	for name, body := range map[string]gin.H{
		"missing receiver": {"content": "hi"},
		"empty content":    {"receiverUid": "u2", "content": ""},
		"self message":     {"receiverUid": "u1", "content": "hi"},
	} {
		w := doJSON(t, f, http.MethodPost, "/api/messages", "u1", "", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}

	// No store write, no fan-out attempt.
	msgs, err := f.store.GetMessages(context.Background(), "u1", "u2")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, f.producer.notices)
}

func TestSendMessageUnauthorized(t *testing.T) {
	f := newFixture(t)

	w := doJSON(t, f, http.MethodPost, "/api/messages", "", "",
		gin.H{"receiverUid": "u2", "content": "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendMessagePublishFailureStill201(t *testing.T) {
	f := newFixture(t)
	f.producer.err = errors.New("broker down")

	w := doJSON(t, f, http.MethodPost, "/api/messages", "u1", "",
		gin.H{"receiverUid": "u2", "content": "hi"})
	assert.Equal(t, http.StatusCreated, w.Code)

	// The message is durable even though the notice was lost.
	msgs, err := f.store.GetMessages(context.Background(), "u1", "u2")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestGetConversationMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, m := range []struct{ from, to, content string }{
		{"u1", "u2", "hi"},
		{"u2", "u1", "hello"},
		{"u1", "u2", "bye"},
	} {
		_, err := f.store.SaveMessage(ctx, m.from, m.to, m.content, "")
		require.NoError(t, err)
	}

	w := doJSON(t, f, http.MethodGet, "/api/conversations/u2", "u1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var msgs []*store.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "bye", msgs[2].Content)
}

func TestGetConversationMessagesEmpty(t *testing.T) {
	f := newFixture(t)

	w := doJSON(t, f, http.MethodGet, "/api/conversations/u9", "u1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestListConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, m := range []struct{ from, to, content string }{
		{"u1", "u2", "hi"},
		{"u3", "u1", "ping"},
		{"u1", "u2", "bye"},
	} {
		_, err := f.store.SaveMessage(ctx, m.from, m.to, m.content, "")
		require.NoError(t, err)
	}

	w := doJSON(t, f, http.MethodGet, "/api/conversations", "u1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summaries []*ConversationSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)

	assert.Equal(t, "bye", summaries[0].Content)
	require.Len(t, summaries[0].ParticipantDetails, 2)
	assert.Equal(t, "Alice", summaries[0].ParticipantDetails[0].Name)
	assert.Equal(t, "Bob", summaries[0].ParticipantDetails[1].Name)

	// u3 has no directory record: a uid-only stub, not an error.
	assert.Equal(t, "ping", summaries[1].Content)
	require.Len(t, summaries[1].ParticipantDetails, 2)
	assert.Equal(t, "u3", summaries[1].ParticipantDetails[1].UID)
	assert.Empty(t, summaries[1].ParticipantDetails[1].Name)
}

func TestListConversationsEmpty(t *testing.T) {
	f := newFixture(t)

	w := doJSON(t, f, http.MethodGet, "/api/conversations", "u9", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
