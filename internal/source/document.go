package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vecsync/internal/apperr"
)

// Document is a snapshot of one record in the source store.
type Document struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Text returns the value of field when it is a non-blank string.
func (d *Document) Text(field string) (string, bool) {
	if d == nil {
		return "", false
	}
	s, ok := d.Fields[field].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(s)); op {
	case OpInsert, OpUpdate, OpDelete:
		return op, nil
	}
	return "", fmt.Errorf("%w: unknown operation %q", apperr.ErrInput, s)
}

// ChangeEvent is one mutation delivered by a change feed. Document is the
// full snapshot for inserts and updates and may be nil when it could not be
// read; consumers treat that as a document without text.
type ChangeEvent struct {
	Operation  Operation `json:"op"`
	DocumentID string    `json:"id"`
	Document   *Document `json:"document,omitempty"`
}

// Getter loads a single document snapshot. A missing document is (nil, nil).
type Getter interface {
	Get(ctx context.Context, id string) (*Document, error)
}

// Store is the bulk-scan view of the source collection.
type Store interface {
	Getter
	// Scan returns up to limit documents with id greater than after, ordered
	// by id. With onlyMissing it skips documents that already carry an
	// embedding marker.
	Scan(ctx context.Context, after string, limit int, onlyMissing bool) ([]Document, error)
	Count(ctx context.Context) (int, error)
}

// Marker is implemented by stores that record when a document was embedded.
type Marker interface {
	MarkEmbedded(ctx context.Context, id string, at time.Time) error
}

// ChangeFeed opens subscriptions to the source's mutations.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription delivers events in arrival order. A value on Errors or a
// closed Events channel means the subscription is broken and must be
// replaced. Close is idempotent.
type Subscription interface {
	Events() <-chan ChangeEvent
	Errors() <-chan error
	Close() error
}

// DecodeEvent parses a JSON change event. Inserts and updates that arrive
// without a snapshot are resolved through getter when one is given.
func DecodeEvent(ctx context.Context, payload []byte, getter Getter) (ChangeEvent, error) {
	var raw struct {
		Op       string    `json:"op"`
		ID       string    `json:"id"`
		Document *Document `json:"document"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: decode change event: %v", apperr.ErrInput, err)
	}
	op, err := ParseOperation(raw.Op)
	if err != nil {
		return ChangeEvent{}, err
	}
	if raw.ID == "" {
		return ChangeEvent{}, fmt.Errorf("%w: change event without document id", apperr.ErrInput)
	}

	ev := ChangeEvent{Operation: op, DocumentID: raw.ID}
	if op == OpDelete {
		return ev, nil
	}
	if raw.Document != nil {
		if raw.Document.ID == "" {
			raw.Document.ID = raw.ID
		}
		ev.Document = raw.Document
		return ev, nil
	}
	if getter != nil {
		doc, err := getter.Get(ctx, raw.ID)
		if err != nil {
			return ChangeEvent{}, err
		}
		ev.Document = doc
	}
	return ev, nil
}
