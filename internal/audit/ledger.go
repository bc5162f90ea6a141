// Package audit records queued actions that were dropped without delivery.
package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/store"
)

// Ledger writes drop records so permanently failed actions stay countable
// after they leave the queue.
type Ledger struct {
	store *store.Store
}

// NewLedger creates a new drop ledger.
func NewLedger(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

// RecordDrop writes a ledger entry for a dropped action. The payload itself is
// not kept, only its hash.
func (l *Ledger) RecordDrop(action models.QueuedAction, reason string) error {
	_, err := l.store.WriteDropped(action.ID, action.Kind, hashPayload(action.Payload), action.Attempts, reason)
	return err
}

// Count returns how many actions have been dropped in total.
func (l *Ledger) Count() (int, error) {
	return l.store.CountDropped()
}

// Recent returns the newest drop records.
func (l *Ledger) Recent(limit int) ([]models.DroppedAction, error) {
	return l.store.ListDropped("", limit)
}

func hashPayload(payload []byte) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}
