package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shelfmesh/shelfmesh/internal/shared"
)

// EntityType discriminates operation-log payloads.
type EntityType string

const (
	EntityBook EntityType = "book"
	EntityCopy EntityType = "copy"
	EntityLoan EntityType = "loan"
)

// Operation is the kind of mutation an operation-log entry carries.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// OpStatus records the audit outcome of applying an entry. Entries are
// never mutated or deleted; only this status field is stamped.
type OpStatus string

const (
	OpStatusPending OpStatus = "pending"
	OpStatusApplied OpStatus = "applied"
	OpStatusSkipped OpStatus = "skipped"
	OpStatusFailed  OpStatus = "failed"
)

// OperationEntry is one row of the append-only operation log. ID is
// assigned locally and monotonically increasing; CreatedAt is the
// conflict-resolution ordering key and travels with the entry across
// peers.
type OperationEntry struct {
	ID         int64           `json:"id,omitempty"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     OpStatus        `json:"status,omitempty"`
	Error      *string         `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Validate checks the entry shape before it reaches the sync processor.
// Unknown entity types and operations are validation errors, never
// silently dropped: dropping them would desynchronize peers without
// trace.
func (e *OperationEntry) Validate() error {
	switch e.EntityType {
	case EntityBook, EntityCopy, EntityLoan:
	default:
		return fmt.Errorf("%w: %q", shared.ErrUnknownEntityType, e.EntityType)
	}
	switch e.Operation {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: unknown operation %q", shared.ErrInvalidPayload, e.Operation)
	}
	if e.EntityID == "" {
		return fmt.Errorf("%w: missing entity_id", shared.ErrInvalidPayload)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", shared.ErrInvalidPayload)
	}
	return nil
}

// DecodePayload decodes the entry payload into the concrete entity for
// its declared type. Delete entries may carry an empty payload; insert
// and update must carry the full resulting entity state.
func (e *OperationEntry) DecodePayload() (any, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Operation == OpDelete && len(e.Payload) == 0 {
		return nil, nil
	}
	if len(e.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload for %s %s", shared.ErrInvalidPayload, e.Operation, e.EntityType)
	}

	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()

	switch e.EntityType {
	case EntityBook:
		var b Book
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("%w: book payload: %v", shared.ErrInvalidPayload, err)
		}
		if b.ID == "" || b.Title == "" {
			return nil, fmt.Errorf("%w: book payload missing id or title", shared.ErrInvalidPayload)
		}
		if b.Retention == "" {
			b.Retention = RetentionEphemeral
		}
		return &b, nil
	case EntityCopy:
		var c Copy
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%w: copy payload: %v", shared.ErrInvalidPayload, err)
		}
		if c.ID == "" || c.BookID == "" {
			return nil, fmt.Errorf("%w: copy payload missing id or book_id", shared.ErrInvalidPayload)
		}
		return &c, nil
	case EntityLoan:
		var l Loan
		if err := dec.Decode(&l); err != nil {
			return nil, fmt.Errorf("%w: loan payload: %v", shared.ErrInvalidPayload, err)
		}
		if l.ID == "" || l.CopyID == "" {
			return nil, fmt.Errorf("%w: loan payload missing id or copy_id", shared.ErrInvalidPayload)
		}
		return &l, nil
	}
	return nil, fmt.Errorf("%w: %q", shared.ErrUnknownEntityType, e.EntityType)
}
