// Package livequery serves "newest N messages of a conversation" queries that
// re-run whenever the conversation changes.
package livequery

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/RahmatullahZadran/appss/internal/metrics"
	"github.com/RahmatullahZadran/appss/internal/models"
)

// Snapshot is the current result of a live query, newest message first.
type Snapshot struct {
	ConversationID string
	Messages       []models.Message
	Err            error
}

// Loader returns the newest limit messages of a conversation, newest first.
type Loader func(conversationID string, limit int) ([]models.Message, error)

// Bus carries change notifications between server instances.
type Bus interface {
	Publish(ctx context.Context, conversationID string) error
	Run(ctx context.Context, onChange func(conversationID string)) error
}

var ErrInvalidLimit = errors.New("live query limit must be positive")

type subscription struct {
	conversationID string
	limit          int
	ch             chan Snapshot

	mu     sync.Mutex
	closed bool
}

// deliver replaces any unread snapshot with s.
func (sub *subscription) deliver(s Snapshot) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- s:
	default:
		select {
		case <-sub.ch:
			metrics.SnapshotsCoalesced.Inc()
		default:
		}
		sub.ch <- s
	}
	metrics.SnapshotsSent.Inc()
}

func (sub *subscription) close() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}
	sub.closed = true
	close(sub.ch)
	return true
}

// Broker keeps the live subscriptions of this process.
type Broker struct {
	load Loader
	bus  Bus
	log  zerolog.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

func NewBroker(load Loader, log zerolog.Logger) *Broker {
	return &Broker{
		load: load,
		log:  log.With().Str("component", "livequery").Logger(),
		subs: make(map[string]map[*subscription]struct{}),
	}
}

// WithBus routes Notify through bus so other instances refresh as well.
// Start must be called to consume the bus.
func (b *Broker) WithBus(bus Bus) *Broker {
	b.bus = bus
	return b
}

// Start consumes change notifications from the bus until ctx is done.
func (b *Broker) Start(ctx context.Context) {
	if b.bus == nil {
		return
	}
	go func() {
		if err := b.bus.Run(ctx, b.Refresh); err != nil && !errors.Is(err, context.Canceled) {
			b.log.Error().Err(err).Msg("change bus stopped")
		}
	}()
}

// Subscribe registers a live query and delivers its first snapshot before
// returning. The subscription ends when cancel is called or ctx is done;
// the channel is closed then.
func (b *Broker) Subscribe(ctx context.Context, conversationID string, limit int) (<-chan Snapshot, func(), error) {
	if limit <= 0 {
		return nil, nil, ErrInvalidLimit
	}
	initial, err := b.load(conversationID, limit)
	if err != nil {
		return nil, nil, err
	}

	sub := &subscription{
		conversationID: conversationID,
		limit:          limit,
		ch:             make(chan Snapshot, 1),
	}
	sub.deliver(Snapshot{ConversationID: conversationID, Messages: initial})

	b.mu.Lock()
	set, ok := b.subs[conversationID]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[conversationID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	metrics.LiveSubscriptions.Inc()

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			b.remove(sub)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()

	return sub.ch, cancel, nil
}

func (b *Broker) remove(sub *subscription) {
	b.mu.Lock()
	if set, ok := b.subs[sub.conversationID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.conversationID)
		}
	}
	b.mu.Unlock()
	if sub.close() {
		metrics.LiveSubscriptions.Dec()
	}
}

// Notify announces that a conversation changed.
func (b *Broker) Notify(ctx context.Context, conversationID string) {
	if b.bus != nil {
		err := b.bus.Publish(ctx, conversationID)
		if err == nil {
			return
		}
		b.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("publish failed, refreshing locally")
	}
	b.Refresh(conversationID)
}

// Refresh re-runs the live queries of a conversation held by this process.
// Each distinct window size is loaded once.
func (b *Broker) Refresh(conversationID string) {
	b.mu.RLock()
	set := b.subs[conversationID]
	subs := make([]*subscription, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	results := make(map[int]Snapshot)
	for _, sub := range subs {
		snap, ok := results[sub.limit]
		if !ok {
			msgs, err := b.load(conversationID, sub.limit)
			snap = Snapshot{ConversationID: conversationID, Messages: msgs, Err: err}
			if err != nil {
				b.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("live query reload failed")
			}
			results[sub.limit] = snap
		}
		sub.deliver(snap)
	}
}

// Subscribers returns the number of live queries on a conversation.
func (b *Broker) Subscribers(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[conversationID])
}
