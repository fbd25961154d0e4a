package triage

import (
	"context"

	"github.com/linnemanlabs/grievance/internal/complaint"
	"github.com/linnemanlabs/grievance/internal/routing"
)

// Classifier produces a category distribution for a description.
type Classifier interface {
	Classify(ctx context.Context, text string) (complaint.Distribution, error)
	Version() string
}

// Router resolves a category to its department recipient.
type Router interface {
	Resolve(c complaint.Category) (routing.Recipient, error)
}

// Store is the persistence port for complaint records.
type Store interface {
	// Insert stores rec and returns the identifier assigned to it.
	Insert(ctx context.Context, rec *complaint.Record) (string, error)
	Get(ctx context.Context, id string) (*complaint.Record, bool, error)
	// List returns records newest first.
	List(ctx context.Context, f complaint.ListFilter) ([]*complaint.Record, error)
	SetStatus(ctx context.Context, id string, st complaint.Status) (*complaint.Record, bool, error)
}

// Notifier is the outbound delivery port. The returned outcome is a short
// human-readable description of what happened.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) (outcome string, err error)
}
