package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/RahmatullahZadran/appss/internal/models"
)

type messageFixture struct {
	svc       *MessageService
	messages  *MockMessageRepository
	convs     *MockConversationRepository
	summaries *MockSummaryRepository
	notifier  *recordingNotifier
}

func newMessageFixture() *messageFixture {
	summaries := NewMockSummaryRepository()
	f := &messageFixture{
		messages:  NewMockMessageRepository(summaries),
		convs:     NewMockConversationRepository(),
		summaries: summaries,
		notifier:  &recordingNotifier{},
	}
	f.convs.add("pair", 1, 2)
	f.convs.add("crowd", 1, 2, 3)
	f.svc = NewMessageService(f.messages, f.convs, f.summaries, nil, zerolog.Nop())
	f.svc.SetNotifier(f.notifier)
	return f
}

func (f *messageFixture) seed(n int) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		f.messages.messages = append(f.messages.messages, models.Message{
			ID:             string(rune('a' + i)),
			ConversationID: "pair",
			SenderID:       1,
			Text:           "m",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
	}
}

func TestLatestRequiresParticipant(t *testing.T) {
	f := newMessageFixture()
	f.seed(3)

	tests := []struct {
		name    string
		userID  uint
		conv    string
		wantErr error
		wantLen int
	}{
		{"Participant reads window", 1, "pair", nil, 3},
		{"Outsider is rejected", 9, "pair", ErrNotParticipant, 0},
		{"Unknown conversation", 1, "missing", ErrNotFound, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.Latest(tt.userID, tt.conv, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Latest error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.wantLen {
				t.Errorf("Latest returned %d messages, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestLatestIsNewestFirstAndClamped(t *testing.T) {
	f := newMessageFixture()
	f.seed(10)

	got, err := f.svc.Latest(2, "pair", 0)
	if err != nil {
		t.Fatalf("Latest error = %v", err)
	}
	if len(got) != DefaultPageSize {
		t.Fatalf("Latest returned %d messages, want %d", len(got), DefaultPageSize)
	}
	if got[0].ID != string(rune('a'+10)) {
		t.Errorf("first message = %q, want newest", got[0].ID)
	}
}

func TestBeforePagesOlder(t *testing.T) {
	f := newMessageFixture()
	f.seed(10)

	latest, _ := f.svc.Latest(1, "pair", 4)
	oldest := latest[len(latest)-1]

	page, err := f.svc.Before(1, "pair", models.CursorOf(oldest), 3)
	if err != nil {
		t.Fatalf("Before error = %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("Before returned %d messages, want 3", len(page))
	}
	for _, m := range page {
		if !m.CreatedAt.Before(oldest.CreatedAt) {
			t.Errorf("message %q is not older than the cursor", m.ID)
		}
	}

	if _, err := f.svc.Before(1, "pair", models.Cursor{}, 3); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Before with empty cursor error = %v, want ErrInvalidInput", err)
	}
}

func TestAppendNotifies(t *testing.T) {
	f := newMessageFixture()

	msg, err := f.svc.Append(context.Background(), 1, "pair", SendMessageInput{Text: "  hello  "})
	if err != nil {
		t.Fatalf("Append error = %v", err)
	}
	if msg.Text != "hello" {
		t.Errorf("Text = %q, want trimmed", msg.Text)
	}
	if len(f.notifier.ids) != 1 || f.notifier.ids[0] != "pair" {
		t.Errorf("notifications = %v", f.notifier.ids)
	}
	if f.summaries.patches != 0 {
		t.Errorf("Append patched %d summaries", f.summaries.patches)
	}
}

func TestAppendKeepsClientTimestamp(t *testing.T) {
	f := newMessageFixture()
	at := time.Date(2024, 3, 1, 8, 0, 0, 123456789, time.UTC)

	msg, err := f.svc.Append(context.Background(), 2, "pair", SendMessageInput{Text: "hi", CreatedAt: &at})
	if err != nil {
		t.Fatalf("Append error = %v", err)
	}
	if !msg.CreatedAt.Equal(models.NormalizeTimestamp(at)) {
		t.Errorf("CreatedAt = %v, want %v", msg.CreatedAt, models.NormalizeTimestamp(at))
	}
}

func TestSendAtomicUpdatesSummaries(t *testing.T) {
	f := newMessageFixture()

	msg, err := f.svc.SendAtomic(context.Background(), 1, "pair", SendMessageInput{Text: "hello"})
	if err != nil {
		t.Fatalf("SendAtomic error = %v", err)
	}

	recipient, err := f.summaries.Get(2, "pair")
	if err != nil {
		t.Fatalf("recipient summary missing: %v", err)
	}
	if !recipient.Unread || recipient.LastMessage != "hello" || recipient.PeerID != 1 {
		t.Errorf("recipient summary = %+v", recipient)
	}

	sender, err := f.summaries.Get(1, "pair")
	if err != nil {
		t.Fatalf("sender summary missing: %v", err)
	}
	if sender.Unread {
		t.Errorf("sender summary marked unread")
	}
	if sender.LastMessageAt == nil || !sender.LastMessageAt.Equal(msg.CreatedAt) {
		t.Errorf("sender LastMessageAt = %v, want %v", sender.LastMessageAt, msg.CreatedAt)
	}
	if len(f.notifier.ids) != 1 {
		t.Errorf("notifications = %v", f.notifier.ids)
	}
}

func TestSendAtomicRejects(t *testing.T) {
	tests := []struct {
		name    string
		sender  uint
		conv    string
		input   SendMessageInput
		wantErr error
	}{
		{"Three participants", 1, "crowd", SendMessageInput{Text: "hi"}, ErrDataIntegrity},
		{"Recipient mismatch", 1, "pair", SendMessageInput{Text: "hi", RecipientID: 3}, ErrInvalidInput},
		{"Blank text", 1, "pair", SendMessageInput{Text: "   "}, ErrInvalidInput},
		{"Sender outside conversation", 5, "pair", SendMessageInput{Text: "hi"}, ErrNotParticipant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMessageFixture()
			_, err := f.svc.SendAtomic(context.Background(), tt.sender, tt.conv, tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SendAtomic error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(f.messages.messages) != 0 {
				t.Errorf("message stored despite rejection")
			}
			if f.summaries.patches != 0 {
				t.Errorf("summaries patched despite rejection")
			}
			if len(f.notifier.ids) != 0 {
				t.Errorf("notified despite rejection")
			}
		})
	}
}

func TestSendAtomicStoreFailure(t *testing.T) {
	f := newMessageFixture()
	f.messages.createErr = errors.New("connection reset")

	if _, err := f.svc.SendAtomic(context.Background(), 1, "pair", SendMessageInput{Text: "hi"}); err == nil {
		t.Fatal("SendAtomic succeeded with failing store")
	}
	if len(f.notifier.ids) != 0 {
		t.Errorf("notified after failed write")
	}
}

func TestPatchSummary(t *testing.T) {
	unread := true
	text := "preview"

	tests := []struct {
		name    string
		actor   uint
		target  uint
		patch   models.SummaryPatch
		wantErr error
		patches int
	}{
		{"Actor patches peer", 1, 2, models.SummaryPatch{Unread: &unread, LastMessage: &text}, nil, 1},
		{"Actor patches self", 2, 2, models.SummaryPatch{Unread: &unread}, nil, 1},
		{"Empty patch is a no-op", 1, 2, models.SummaryPatch{}, nil, 0},
		{"Target outside conversation", 1, 7, models.SummaryPatch{Unread: &unread}, ErrNotParticipant, 0},
		{"Actor outside conversation", 7, 1, models.SummaryPatch{Unread: &unread}, ErrNotParticipant, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMessageFixture()
			err := f.svc.PatchSummary(tt.actor, "pair", tt.target, tt.patch)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PatchSummary error = %v, wantErr %v", err, tt.wantErr)
			}
			if f.summaries.patches != tt.patches {
				t.Errorf("patches = %d, want %d", f.summaries.patches, tt.patches)
			}
		})
	}
}

func TestPatchSummaryKeepsUnsetFields(t *testing.T) {
	f := newMessageFixture()
	if _, err := f.svc.SendAtomic(context.Background(), 1, "pair", SendMessageInput{Text: "first"}); err != nil {
		t.Fatalf("SendAtomic error = %v", err)
	}

	read := false
	if err := f.svc.PatchSummary(2, "pair", 2, models.SummaryPatch{Unread: &read}); err != nil {
		t.Fatalf("PatchSummary error = %v", err)
	}
	row, _ := f.summaries.Get(2, "pair")
	if row.Unread {
		t.Errorf("Unread not cleared")
	}
	if row.LastMessage != "first" {
		t.Errorf("LastMessage = %q, want untouched", row.LastMessage)
	}
}
