package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RahmatullahZadran/appss/internal/feed"
	"github.com/RahmatullahZadran/appss/internal/models"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func msg(id string, sec int) models.Message {
	return models.Message{ID: id, ConversationID: "c1", SenderID: 1, Text: id, CreatedAt: t0.Add(time.Duration(sec) * time.Second)}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func conversationHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": models.Conversation{ID: "c1", Participants: []models.ConversationParticipant{
			{ConversationID: "c1", UserID: 1}, {ConversationID: "c1", UserID: 2},
		}},
	})
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(srv.URL, WithToken("tok"), WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}))
	require.NoError(t, err)
	return c
}

func TestNewRejectsScheme(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)

	c, err := New("https://feed.example/base/")
	require.NoError(t, err)
	assert.Equal(t, "wss://feed.example/base/ws", c.liveURL())
}

func TestAPIErrorMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations/c1/send", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "conversation must have exactly two participants", "code": "data_integrity", "request_id": "r1",
		})
	})
	mux.HandleFunc("/api/users/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newTestClient(t, srv)

	err := c.SendAtomic(context.Background(), &models.Message{ConversationID: "c1", Text: "hi"}, 2)
	require.Error(t, err)
	assert.True(t, feed.IsDataIntegrity(err))
	assert.True(t, IsStatus(err, http.StatusUnprocessableEntity))

	_, err = c.Me(context.Background())
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadGateway))
	assert.False(t, feed.IsDataIntegrity(err))
	assert.Contains(t, err.Error(), "Bad Gateway")
}

func TestFetchOlderSendsCursor(t *testing.T) {
	cursor := models.Cursor{MessageID: "m5", CreatedAt: t0.Add(5*time.Second + 1500*time.Microsecond)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "3", q.Get("limit"))
		assert.Equal(t, "m5", q.Get("before_id"))
		ts, err := time.Parse(time.RFC3339Nano, q.Get("before_ts"))
		assert.NoError(t, err)
		assert.True(t, ts.Equal(cursor.CreatedAt))
		writeJSON(w, http.StatusOK, Page{Messages: []models.Message{msg("m4", 4), msg("m3", 3)}, Count: 2})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	older, err := newTestClient(t, srv).FetchOlder(context.Background(), "c1", cursor, 3)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "m4", older[0].ID)
}

func TestWritesAdoptStoredMessage(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]interface{}
	record := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		writeJSON(w, http.StatusCreated, models.Message{ID: "01HSTORED", ConversationID: "c1", SenderID: 1, Text: "hi", CreatedAt: t0})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations/c1/messages", record)
	mux.HandleFunc("/api/conversations/c1/send", record)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newTestClient(t, srv)

	m := &models.Message{ConversationID: "c1", Text: "  hi \n", CreatedAt: t0}
	require.NoError(t, c.Insert(context.Background(), m))
	assert.Equal(t, "01HSTORED", m.ID)
	assert.Equal(t, "hi", m.Text, "text must match what the server stored")

	m = &models.Message{ConversationID: "c1", Text: "hi"}
	require.NoError(t, c.SendAtomic(context.Background(), m, 2))
	assert.Equal(t, "01HSTORED", m.ID)
	assert.True(t, m.CreatedAt.Equal(t0))

	require.Len(t, bodies, 2)
	assert.NotContains(t, bodies[0], "recipient_id")
	assert.Contains(t, bodies[0], "created_at")
	assert.Equal(t, float64(2), bodies[1]["recipient_id"])
	assert.NotContains(t, bodies[1], "created_at")
}

func TestUpdateSummarySendsPatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations/c1/summaries/2", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]interface{}{"unread": false}, body)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/conversations/c1", conversationHandler)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newTestClient(t, srv)

	unread := false
	require.NoError(t, c.UpdateSummary(context.Background(), 2, "c1", models.SummaryPatch{Unread: &unread}))

	ids, err := c.Participants(context.Background(), "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 2}, ids)
}

// liveServer accepts subscriptions on /ws and lets tests push frames to the
// current connection.
type liveServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func newLiveServer(t *testing.T) (*liveServer, *httptest.Server) {
	ls := &liveServer{t: t, conns: make(chan *websocket.Conn, 4)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations/c1", conversationHandler)
	mux.HandleFunc("/api/conversations/c2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not a participant", "code": "not_participant"})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := ls.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var f frame
		if err := conn.ReadJSON(&f); err != nil || f.Type != "subscribe" {
			_ = conn.Close()
			return
		}
		ls.conns <- conn
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return ls, srv
}

func (ls *liveServer) next() *websocket.Conn {
	select {
	case conn := <-ls.conns:
		ls.t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		ls.t.Fatal("no subscription arrived")
		return nil
	}
}

func snapshotFrame(t *testing.T, messages ...models.Message) []byte {
	payload, err := json.Marshal(snapshotPayload{ConversationID: "c1", Messages: messages})
	require.NoError(t, err)
	raw, err := json.Marshal(frame{Type: "snapshot", Payload: payload})
	require.NoError(t, err)
	return raw
}

func recv(t *testing.T, ch <-chan feed.Batch) feed.Batch {
	t.Helper()
	select {
	case b, ok := <-ch:
		require.True(t, ok, "channel closed")
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
		return feed.Batch{}
	}
}

func TestSubscribeReconnectsAfterDrop(t *testing.T) {
	ls, srv := newLiveServer(t)
	c := newTestClient(t, srv)

	batches, cancel, err := c.Subscribe(context.Background(), "c1", 9)
	require.NoError(t, err)
	defer cancel()

	conn := ls.next()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, snapshotFrame(t, msg("m2", 2), msg("m1", 1))))
	b := recv(t, batches)
	require.NoError(t, b.Err)
	require.Len(t, b.Messages, 2)
	assert.Equal(t, "m2", b.Messages[0].ID)

	_ = conn.Close()
	b = recv(t, batches)
	require.Error(t, b.Err)
	assert.ErrorIs(t, b.Err, errConnectionLost)

	conn = ls.next()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(snapshotFrame(t, msg("m3", 3), msg("m2", 2)))
	require.NoError(t, zw.Close())
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()))

	b = recv(t, batches)
	require.NoError(t, b.Err)
	assert.Equal(t, "m3", b.Messages[0].ID)
}

func TestSubscribeForwardsServerErrors(t *testing.T) {
	ls, srv := newLiveServer(t)
	c := newTestClient(t, srv)

	batches, cancel, err := c.Subscribe(context.Background(), "c1", 9)
	require.NoError(t, err)
	defer cancel()
	conn := ls.next()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"error","payload":{"error":"Live query failed","code":"live_query_failed","conversation_id":"c1"}}`)))
	b := recv(t, batches)
	var apiErr *APIError
	require.ErrorAs(t, b.Err, &apiErr)
	assert.Equal(t, "live_query_failed", apiErr.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"error","payload":{"error":"Forbidden","code":"not_participant","conversation_id":"c1"}}`)))
	b = recv(t, batches)
	require.ErrorAs(t, b.Err, &apiErr)
	assert.Equal(t, "not_participant", apiErr.Code)

	select {
	case _, ok := <-batches:
		assert.False(t, ok, "subscription should end after a refusal")
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	ls, srv := newLiveServer(t)
	c := newTestClient(t, srv)

	batches, cancel, err := c.Subscribe(context.Background(), "c1", 9)
	require.NoError(t, err)
	ls.next()

	cancel()
	cancel()
	for range batches {
	}
}

func TestSubscribeRefused(t *testing.T) {
	_, srv := newLiveServer(t)

	c := newTestClient(t, srv)
	_, _, err := c.Subscribe(context.Background(), "c2", 9)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusForbidden))

	anon, err := New(srv.URL)
	require.NoError(t, err)
	_, err = anon.openLive(context.Background(), "c1", 9)
	require.Error(t, err)
	var permanent *backoff.PermanentError
	assert.ErrorAs(t, err, &permanent)
}
