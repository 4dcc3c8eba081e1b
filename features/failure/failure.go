package failure

import (
	"time"

	"vecsync/internal/source"
)

// Failure is a document whose last reconciliation failed. One row is kept
// per document; Retries counts how often it has failed since.
type Failure struct {
	ID         string           `json:"id"`
	DocumentID string           `json:"document_id"`
	Operation  source.Operation `json:"operation"`
	Error      string           `json:"error"`
	Retries    int              `json:"retries"`
	CreatedAt  time.Time        `json:"created_at"`
}
