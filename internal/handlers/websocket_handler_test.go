package handlers_test

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RahmatullahZadran/appss/internal/handlers/ws"
	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/service"
)

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

type serverFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (f *apiFixture) listen() string {
	f.t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(f.t, err)
	go func() { _ = f.app.Listener(ln) }()
	f.t.Cleanup(func() { _ = f.app.Shutdown() })
	return ln.Addr().String()
}

func dialWS(t *testing.T, addr, token string) *gorilla.Conn {
	t.Helper()
	conn, resp, err := gorilla.DefaultDialer.Dial("ws://"+addr+"/ws?access_token="+token, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *gorilla.Conn, msg ws.Message) {
	t.Helper()
	raw, err := ws.Serialize(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, raw))
}

func readFrame(t *testing.T, conn *gorilla.Conn) serverFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame serverFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

// readSnapshot reads frames until a snapshot with want messages arrives.
func readSnapshot(t *testing.T, conn *gorilla.Conn, want int) ws.SnapshotPayload {
	t.Helper()
	for i := 0; i < 10; i++ {
		frame := readFrame(t, conn)
		if frame.Type != ws.MsgSnapshot {
			continue
		}
		var snap ws.SnapshotPayload
		require.NoError(t, json.Unmarshal(frame.Payload, &snap))
		if len(snap.Messages) == want {
			return snap
		}
	}
	t.Fatalf("no snapshot with %d messages", want)
	return ws.SnapshotPayload{}
}

func TestWebSocketLiveQuery(t *testing.T) {
	f := newAPI(t)
	ana := f.register("ana@example.com", "Ana")
	ben := f.register("ben@example.com", "Ben")
	conv := f.open(ana.Token, ben.User.ID)
	f.h.CreateTestMessages(conv.ID, ana.User.ID, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), 5)

	addr := f.listen()
	conn := dialWS(t, addr, ben.Token)

	sendFrame(t, conn, &ws.MessagePing{})
	assert.Equal(t, ws.MsgPong, readFrame(t, conn).Type)

	// Limit 0 falls back to the server's live window of 3.
	sendFrame(t, conn, &ws.MessageSubscribe{ConversationID: conv.ID})
	first := readSnapshot(t, conn, 3)
	assert.Equal(t, conv.ID, first.ConversationID)

	resp := f.do(http.MethodPost, "/api/conversations/"+conv.ID+"/send", ana.Token, service.SendMessageInput{Text: "live"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent models.Message
	decode(t, resp, &sent)

	next := readSnapshot(t, conn, 3)
	for next.Messages[0].ID != sent.ID {
		next = readSnapshot(t, conn, 3)
	}
	assert.Equal(t, "live", next.Messages[0].Text)
	assert.Equal(t, first.Messages[0].ID, next.Messages[1].ID)

	sendFrame(t, conn, &ws.MessageUnsubscribe{ConversationID: conv.ID})
	require.Eventually(t, func() bool { return f.broker.Subscribers(conv.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsOutsider(t *testing.T) {
	f := newAPI(t)
	ana := f.register("ana@example.com", "Ana")
	ben := f.register("ben@example.com", "Ben")
	carl := f.register("carl@example.com", "Carl")
	conv := f.open(ana.Token, ben.User.ID)

	addr := f.listen()
	conn := dialWS(t, addr, carl.Token)

	sendFrame(t, conn, &ws.MessageSubscribe{ConversationID: conv.ID, Limit: 5})
	frame := readFrame(t, conn)
	require.Equal(t, "error", frame.Type)
	var payload ws.ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "not_participant", payload.Code)
	assert.Equal(t, conv.ID, payload.ConversationID)
	assert.Equal(t, 0, f.broker.Subscribers(conv.ID))

	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, []byte(`{"type":"bogus"}`)))
	frame = readFrame(t, conn)
	require.Equal(t, "error", frame.Type)
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "invalid_message", payload.Code)
}

func TestWebSocketRequiresToken(t *testing.T) {
	f := newAPI(t)
	addr := f.listen()

	_, resp, err := gorilla.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
