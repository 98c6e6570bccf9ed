package feed

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/RahmatullahZadran/appss/internal/models"
)

const (
	DefaultLiveWindow      = 9
	DefaultPageSize        = 6
	DefaultMaxGapPages     = 50
	DefaultMarkReadTimeout = 10 * time.Second
)

type EventKind int

const (
	// EventMessages means the local list changed.
	EventMessages EventKind = iota + 1
	// EventError carries a subscription or gap-repair failure. The list is
	// unchanged and stays readable.
	EventError
)

type Event struct {
	Kind  EventKind
	Added int
	// Reset is set when the list was replaced by the live window because the
	// missing range was too long to fetch. Older history is reachable again
	// through LoadOlder.
	Reset bool
	Err   error
}

type options struct {
	liveWindow      int
	pageSize        int
	maxGapPages     int
	markReadTimeout time.Duration
	atomicSend      bool
	now             func() time.Time
	log             zerolog.Logger
}

type Option func(*options)

// WithLiveWindow sets how many of the newest messages the live query covers.
func WithLiveWindow(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.liveWindow = n
		}
	}
}

// WithPageSize sets the batch size of LoadOlder.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

func WithMaxGapPages(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxGapPages = n
		}
	}
}

func WithMarkReadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.markReadTimeout = d
		}
	}
}

// WithoutAtomicSend forces the three separate writes on send even when the
// store implements AtomicSender.
func WithoutAtomicSend() Option {
	return func(o *options) { o.atomicSend = false }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Synchronizer is the local view of one conversation for one viewer.
// All merges happen under a single lock and publish a fresh slice, so
// Messages never observes a half-merged list.
type Synchronizer struct {
	store          MessageStore
	conversationID string
	viewerID       uint
	opts           options
	log            zerolog.Logger

	mu           sync.RWMutex
	messages     []models.Message
	index        map[string]struct{}
	cursor       *models.Cursor
	reachedStart bool
	// tail is the newest message known to be contiguous with everything
	// before it in the list. Optimistically sent messages never move it.
	tail    *models.Message
	lastErr error

	loading  atomic.Bool
	detached atomic.Bool

	ctx      context.Context
	stop     context.CancelFunc
	cancel   CancelFunc
	detachMu sync.Once
	done     chan struct{}
	events   chan Event
	bg       sync.WaitGroup
}

// Attach opens the live subscription for conversationID on behalf of viewerID
// and starts merging its deliveries. ctx bounds only the subscribe call; the
// synchronizer lives until Detach.
func Attach(ctx context.Context, store MessageStore, conversationID string, viewerID uint, opts ...Option) (*Synchronizer, error) {
	if store == nil {
		return nil, errors.New("feed: nil store")
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("feed: empty conversation id")
	}
	if viewerID == 0 {
		return nil, errors.New("feed: missing viewer id")
	}

	o := options{
		liveWindow:      DefaultLiveWindow,
		pageSize:        DefaultPageSize,
		maxGapPages:     DefaultMaxGapPages,
		markReadTimeout: DefaultMarkReadTimeout,
		atomicSend:      true,
		now:             time.Now,
		log:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	runCtx, stop := context.WithCancel(context.Background())
	s := &Synchronizer{
		store:          store,
		conversationID: conversationID,
		viewerID:       viewerID,
		opts:           o,
		log:            o.log.With().Str("conversation_id", conversationID).Uint("viewer_id", viewerID).Logger(),
		index:          make(map[string]struct{}),
		ctx:            runCtx,
		stop:           stop,
		done:           make(chan struct{}),
		events:         make(chan Event, 32),
	}

	batches, cancel, err := store.Subscribe(ctx, conversationID, o.liveWindow)
	if err != nil {
		stop()
		return nil, &TransientFetchError{Op: "subscribe", Err: err}
	}
	s.cancel = cancel

	go s.run(batches)
	s.log.Debug().Int("live_window", o.liveWindow).Msg("feed attached")
	return s, nil
}

func (s *Synchronizer) ConversationID() string { return s.conversationID }

func (s *Synchronizer) ViewerID() uint { return s.viewerID }

// Messages returns the current list, oldest first. The slice is a copy.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Cursor returns the pagination cursor, or false before the first delivery.
func (s *Synchronizer) Cursor() (models.Cursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor == nil {
		return models.Cursor{}, false
	}
	return *s.cursor, true
}

// ReachedStart reports whether a page came back short, i.e. the oldest
// message of the conversation is loaded.
func (s *Synchronizer) ReachedStart() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reachedStart
}

// Loading reports whether a LoadOlder fetch is in flight.
func (s *Synchronizer) Loading() bool { return s.loading.Load() }

// Err returns the most recent subscription failure, cleared by the next
// successful delivery.
func (s *Synchronizer) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Events signals list changes and failures. Events are dropped when the
// consumer lags; Messages is always current.
func (s *Synchronizer) Events() <-chan Event { return s.events }

// Done is closed once the synchronizer has stopped consuming its subscription.
func (s *Synchronizer) Done() <-chan struct{} { return s.done }

// Detach unsubscribes and turns every later callback into a no-op. An
// in-flight LoadOlder still completes but leaves the list alone.
func (s *Synchronizer) Detach() {
	s.detachMu.Do(func() {
		s.mu.Lock()
		s.detached.Store(true)
		s.mu.Unlock()
		if s.cancel != nil {
			s.cancel()
		}
		s.stop()
		<-s.done
		s.log.Debug().Msg("feed detached")
	})
}

// Wait detaches the synchronizer and blocks until the read-state writes it
// started have finished.
func (s *Synchronizer) Wait() {
	s.Detach()
	s.bg.Wait()
}

func (s *Synchronizer) run(batches <-chan Batch) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			s.deliver(b)
		}
	}
}

func (s *Synchronizer) deliver(b Batch) {
	if s.detached.Load() {
		return
	}
	if b.Err != nil {
		s.fail(&TransientFetchError{Op: "subscribe", Err: b.Err})
		return
	}
	if len(b.Messages) == 0 {
		return
	}

	batch := ascending(b.Messages)
	if tail, ok := s.gapSuspected(batch); ok {
		filled, complete, err := s.repairGap(tail, batch)
		if err != nil {
			s.fail(err)
			return
		}
		if !complete {
			s.replace(filled)
			return
		}
		batch = filled
	}

	s.mu.Lock()
	if s.detached.Load() {
		s.mu.Unlock()
		return
	}
	var added []models.Message
	s.messages, added = merge(s.messages, s.index, batch)
	s.resetCursorLocked()
	s.advanceTailLocked(batch[len(batch)-1])
	s.lastErr = nil
	s.mu.Unlock()

	s.markRead()
	if len(added) > 0 {
		s.emit(Event{Kind: EventMessages, Added: len(added)})
	}
}

func (s *Synchronizer) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.log.Warn().Err(err).Msg("feed delivery failed, keeping current view")
	s.emit(Event{Kind: EventError, Err: err})
}

// gapSuspected reports whether a full live window starts after the confirmed
// tail while older messages are already loaded. More messages than the window
// may have arrived in between. The returned tail is nil when nothing has been
// confirmed yet, in which case repair pages back to the start.
func (s *Synchronizer) gapSuspected(batch []models.Message) (*models.Message, bool) {
	if len(batch) < s.opts.liveWindow {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 || !models.OlderThan(s.messages[0], batch[0]) {
		return nil, false
	}
	if s.tail == nil {
		return nil, true
	}
	if !models.OlderThan(*s.tail, batch[0]) {
		return nil, false
	}
	tail := *s.tail
	return &tail, true
}

// repairGap pages backwards from the oldest message of batch until it meets
// tail and returns batch extended with the missing range. complete is false
// when the page budget ran out first; the result is then still a contiguous
// range ending at the newest message of batch.
func (s *Synchronizer) repairGap(tail *models.Message, batch []models.Message) ([]models.Message, bool, error) {
	acc := batch
	cur := models.CursorOf(batch[0])
	for page := 0; page < s.opts.maxGapPages; page++ {
		older, err := s.store.FetchOlder(s.ctx, s.conversationID, cur, s.opts.pageSize)
		if err != nil {
			return nil, false, &TransientFetchError{Op: "gap_repair", Err: err}
		}
		asc := ascending(older)
		reached := len(older) < s.opts.pageSize
		kept := make([]models.Message, 0, len(asc))
		for _, m := range asc {
			if tail == nil || models.OlderThan(*tail, m) {
				kept = append(kept, m)
			} else {
				reached = true
			}
		}
		acc = append(kept, acc...)
		if reached {
			s.log.Debug().Int("pages", page+1).Int("filled", len(acc)-len(batch)).Msg("live window gap repaired")
			return acc, true, nil
		}
		cur = models.CursorOf(asc[0])
	}
	s.log.Warn().Int("pages", s.opts.maxGapPages).Msg("live window gap exceeds repair budget, restarting from window")
	return acc, false, nil
}

// replace swaps the list for window, an ascending contiguous range ending at
// the newest stored message. Sent messages newer than window are kept.
func (s *Synchronizer) replace(window []models.Message) {
	s.mu.Lock()
	if s.detached.Load() {
		s.mu.Unlock()
		return
	}
	newest := window[len(window)-1]
	list := make([]models.Message, 0, len(window))
	index := make(map[string]struct{}, len(window))
	list, _ = merge(list, index, window)
	for _, m := range s.messages {
		if models.OlderThan(newest, m) {
			list, _ = merge(list, index, []models.Message{m})
		}
	}
	s.messages = list
	s.index = index
	s.cursor = nil
	s.resetCursorLocked()
	s.reachedStart = false
	s.tail = nil
	s.advanceTailLocked(newest)
	s.lastErr = nil
	s.mu.Unlock()

	s.markRead()
	s.emit(Event{Kind: EventMessages, Added: len(list), Reset: true})
}

// advanceTailLocked moves the confirmed tail forward to m.
func (s *Synchronizer) advanceTailLocked(m models.Message) {
	if s.tail == nil || models.OlderThan(*s.tail, m) {
		t := m
		s.tail = &t
	}
}

// resetCursorLocked points the cursor at the oldest loaded message.
func (s *Synchronizer) resetCursorLocked() {
	if len(s.messages) == 0 {
		return
	}
	c := models.CursorOf(s.messages[0])
	s.cursor = &c
}

// markRead clears the viewer's unread flag without waiting for the write.
// Only the delivery goroutine calls it; Wait stops that goroutine before
// waiting on bg.
func (s *Synchronizer) markRead() {
	if s.detached.Load() {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.markReadTimeout)
		defer cancel()
		unread := false
		if err := s.store.UpdateSummary(ctx, s.viewerID, s.conversationID, models.SummaryPatch{Unread: &unread}); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear unread flag")
		}
	}()
}

func (s *Synchronizer) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// LoadOlder fetches the page of messages preceding the cursor and prepends it.
// It returns (nil, nil) without touching the backend when a fetch is already
// in flight or no cursor exists yet. On failure the cursor is unchanged, so
// retrying is safe. The returned messages are the newly added ones, oldest
// first.
func (s *Synchronizer) LoadOlder(ctx context.Context) ([]models.Message, error) {
	if s.detached.Load() {
		return nil, ErrDetached
	}
	if !s.loading.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer s.loading.Store(false)

	s.mu.RLock()
	var cur models.Cursor
	hasCursor := s.cursor != nil
	if hasCursor {
		cur = *s.cursor
	}
	s.mu.RUnlock()
	if !hasCursor {
		return nil, nil
	}

	older, err := s.store.FetchOlder(ctx, s.conversationID, cur, s.opts.pageSize)
	if err != nil {
		return nil, &TransientFetchError{Op: "fetch_older", Err: err}
	}
	batch := ascending(older)
	s.mu.Lock()
	if s.detached.Load() {
		s.mu.Unlock()
		return nil, nil
	}
	var added []models.Message
	s.messages, added = merge(s.messages, s.index, batch)
	s.resetCursorLocked()
	if len(older) < s.opts.pageSize {
		s.reachedStart = true
	}
	s.mu.Unlock()

	if len(added) > 0 {
		s.emit(Event{Kind: EventMessages, Added: len(added)})
	}
	s.log.Debug().Int("fetched", len(older)).Int("added", len(added)).Msg("loaded older messages")
	return added, nil
}

// Send stores text as a new message from the viewer to the other participant
// and updates both read-state summaries. The recipient is derived from the
// conversation's participant pair; any other shape is ErrDataIntegrity and
// nothing is written.
func (s *Synchronizer) Send(ctx context.Context, text string) (*models.Message, error) {
	if s.detached.Load() {
		return nil, ErrDetached
	}
	if strings.TrimSpace(text) == "" {
		return nil, &SendError{ConversationID: s.conversationID, Stage: StageValidate, Err: ErrEmptyMessage}
	}

	participants, err := s.store.Participants(ctx, s.conversationID)
	if err != nil {
		return nil, &SendError{ConversationID: s.conversationID, Stage: StageResolve, Err: err}
	}
	recipientID, err := ResolveRecipient(participants, s.viewerID)
	if err != nil {
		return nil, &SendError{ConversationID: s.conversationID, Stage: StageResolve, Err: err}
	}

	msg := &models.Message{
		ConversationID: s.conversationID,
		SenderID:       s.viewerID,
		Text:           text,
		CreatedAt:      models.NormalizeTimestamp(s.opts.now()),
	}

	if atomicStore, ok := s.store.(AtomicSender); ok && s.opts.atomicSend {
		if err := atomicStore.SendAtomic(ctx, msg, recipientID); err != nil {
			return nil, &SendError{ConversationID: s.conversationID, Stage: StageAtomic, Err: err}
		}
		s.appendLocal(*msg)
		return msg, nil
	}

	if err := s.store.Insert(ctx, msg); err != nil {
		return nil, &SendError{ConversationID: s.conversationID, Stage: StageInsert, Err: err}
	}
	s.appendLocal(*msg)

	at := msg.CreatedAt
	unread := true
	if err := s.store.UpdateSummary(ctx, recipientID, s.conversationID, models.SummaryPatch{
		Unread:        &unread,
		LastMessage:   &msg.Text,
		LastMessageAt: &at,
	}); err != nil {
		return msg, &SendError{ConversationID: s.conversationID, Stage: StageRecipientSummary, Err: err}
	}

	read := false
	if err := s.store.UpdateSummary(ctx, s.viewerID, s.conversationID, models.SummaryPatch{
		Unread:        &read,
		LastMessage:   &msg.Text,
		LastMessageAt: &at,
	}); err != nil {
		return msg, &SendError{ConversationID: s.conversationID, Stage: StageSenderSummary, Err: err}
	}
	return msg, nil
}

// appendLocal merges a just-sent message under its backend id so the live
// redelivery of the same message is recognised as a duplicate.
func (s *Synchronizer) appendLocal(m models.Message) {
	s.mu.Lock()
	if s.detached.Load() {
		s.mu.Unlock()
		return
	}
	var added []models.Message
	s.messages, added = merge(s.messages, s.index, []models.Message{m})
	s.resetCursorLocked()
	s.mu.Unlock()
	if len(added) > 0 {
		s.emit(Event{Kind: EventMessages, Added: len(added)})
	}
}

// ResolveRecipient returns the single participant other than senderID.
func ResolveRecipient(participants []uint, senderID uint) (uint, error) {
	if len(participants) != 2 {
		return 0, errors.Wrapf(ErrDataIntegrity, "conversation has %d participants", len(participants))
	}
	var others []uint
	hasSender := false
	for _, id := range participants {
		if id == senderID {
			hasSender = true
			continue
		}
		others = append(others, id)
	}
	if !hasSender || len(others) != 1 || others[0] == 0 {
		return 0, errors.Wrapf(ErrDataIntegrity, "participants %v do not pair sender %d with one recipient", participants, senderID)
	}
	return others[0], nil
}
