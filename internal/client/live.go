package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/RahmatullahZadran/appss/internal/feed"
	"github.com/RahmatullahZadran/appss/internal/models"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit"`
}

type snapshotPayload struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
}

type errorPayload struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	ConversationID string `json:"conversation_id"`
}

// errConnectionLost is delivered as a Batch error when the socket drops.
var errConnectionLost = errors.New("live query connection lost")

// Subscribe implements feed.MessageStore. It dials the live-query endpoint
// and forwards snapshots as batches. When the connection drops a Batch with
// Err is delivered and the subscription is re-established with exponential
// backoff. The channel closes after cancel or when the server refuses the
// subscription for good.
func (c *Client) Subscribe(ctx context.Context, conversationID string, limit int) (<-chan feed.Batch, feed.CancelFunc, error) {
	// The socket reports refusals asynchronously; checking access first
	// makes them fail the call.
	if _, err := c.Participants(ctx, conversationID); err != nil {
		return nil, nil, err
	}

	conn, err := c.openLive(ctx, conversationID, limit)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lq := &liveQuery{
		client:         c,
		conversationID: conversationID,
		limit:          limit,
		out:            make(chan feed.Batch, 1),
		log:            c.log.With().Str("conversation_id", conversationID).Logger(),
	}
	go lq.run(runCtx, conn)

	var once sync.Once
	return lq.out, func() { once.Do(cancel) }, nil
}

func (c *Client) liveURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = c.baseURL.Path + "/ws"
	return u.String()
}

// openLive dials /ws and sends the subscribe frame. Refusals that retrying
// cannot fix are marked permanent for backoff.
func (c *Client) openLive(ctx context.Context, conversationID string, limit int) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("X-Supports-Gzip", "1")
	if token := c.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.liveURL(), header)
	if err != nil {
		err = errors.Wrap(err, "dial live query")
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, backoff.Permanent(&APIError{Status: resp.StatusCode, Message: err.Error()})
			}
		}
		return nil, err
	}

	payload, _ := json.Marshal(subscribePayload{ConversationID: conversationID, Limit: limit})
	if err := conn.WriteJSON(frame{Type: "subscribe", Payload: payload}); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "send subscribe")
	}
	return conn, nil
}

type liveQuery struct {
	client         *Client
	conversationID string
	limit          int
	out            chan feed.Batch
	log            zerolog.Logger
}

func (l *liveQuery) run(ctx context.Context, conn *websocket.Conn) {
	defer close(l.out)
	for {
		err := l.read(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		if refused(err) {
			l.emit(ctx, feed.Batch{Err: err})
			return
		}
		l.log.Warn().Err(err).Msg("live query interrupted, reconnecting")
		if !l.emit(ctx, feed.Batch{Err: errors.Wrap(errConnectionLost, err.Error())}) {
			return
		}

		conn, err = l.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.emit(ctx, feed.Batch{Err: err})
			}
			return
		}
		l.log.Info().Msg("live query reconnected")
	}
}

func (l *liveQuery) reconnect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	operation := func() error {
		var err error
		conn, err = l.client.openLive(ctx, l.conversationID, l.limit)
		return err
	}
	notify := func(err error, wait time.Duration) {
		l.log.Debug().Err(err).Dur("retry_in", wait).Msg("live query reconnect failed")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(l.client.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// read consumes frames until the connection fails or ctx ends. Server error
// frames for this conversation come back as *APIError.
func (l *liveQuery) read(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind == websocket.BinaryMessage {
			if raw, err = gunzip(raw); err != nil {
				return errors.Wrap(err, "decompress frame")
			}
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			l.log.Debug().Err(err).Msg("skipping malformed frame")
			continue
		}
		switch f.Type {
		case "snapshot":
			var snap snapshotPayload
			if err := json.Unmarshal(f.Payload, &snap); err != nil {
				return errors.Wrap(err, "decode snapshot")
			}
			if snap.ConversationID != l.conversationID {
				continue
			}
			if !l.emit(ctx, feed.Batch{Messages: snap.Messages}) {
				return ctx.Err()
			}
		case "error":
			var p errorPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				return errors.Wrap(err, "decode error frame")
			}
			if p.ConversationID != "" && p.ConversationID != l.conversationID {
				continue
			}
			apiErr := &APIError{Code: p.Code, Message: p.Error}
			if refused(apiErr) {
				return apiErr
			}
			if !l.emit(ctx, feed.Batch{Err: apiErr}) {
				return ctx.Err()
			}
		}
	}
}

// refused reports whether the server rejected the subscription itself.
func refused(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == "not_participant" || apiErr.Code == "not_found"
}

// emit delivers b unless ctx ends first.
func (l *liveQuery) emit(ctx context.Context, b feed.Batch) bool {
	select {
	case l.out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
