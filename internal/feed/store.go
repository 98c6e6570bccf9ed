// Package feed keeps a local, gap-free, deduplicated and chronologically
// ordered view of one conversation. The view is fed by a live subscription
// on the newest window of messages and by explicit backward pagination.
package feed

import (
	"context"

	"github.com/RahmatullahZadran/appss/internal/models"
)

// Batch is one delivery of a live subscription. Messages arrive newest first.
// A Batch with Err set reports a subscription failure; the subscription keeps
// running and recovers on its own.
type Batch struct {
	Messages []models.Message
	Err      error
}

// CancelFunc stops a subscription. Calling it more than once is safe.
type CancelFunc func()

// MessageStore is the backing document store the synchronizer reads from and
// writes to.
type MessageStore interface {
	// Subscribe opens a live query on the newest limit messages of a
	// conversation. The channel is closed after cancel is called.
	Subscribe(ctx context.Context, conversationID string, limit int) (<-chan Batch, CancelFunc, error)
	// FetchOlder returns up to limit messages strictly older than cursor,
	// newest first.
	FetchOlder(ctx context.Context, conversationID string, cursor models.Cursor, limit int) ([]models.Message, error)
	// Insert stores msg and sets its backend-assigned ID.
	Insert(ctx context.Context, msg *models.Message) error
	// UpdateSummary merge-patches the read state a user holds for a conversation.
	UpdateSummary(ctx context.Context, userID uint, conversationID string, patch models.SummaryPatch) error
	// Participants lists the user ids of a conversation.
	Participants(ctx context.Context, conversationID string) ([]uint, error)
}

// AtomicSender is implemented by stores that can insert a message and update
// both participants' read state in a single transaction.
type AtomicSender interface {
	SendAtomic(ctx context.Context, msg *models.Message, recipientID uint) error
}
