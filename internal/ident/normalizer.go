// Package ident detects legacy work-record identifiers and replaces them
// with globally-unique ones before any sync attempt.
package ident

import (
	"regexp"

	"github.com/probuild/fieldsync/internal/logging"
	"github.com/probuild/fieldsync/internal/models"
	"github.com/probuild/fieldsync/internal/store"
	"github.com/probuild/fieldsync/internal/uuid"
)

// Legacy ids are bare epoch-seconds or epoch-millis timestamps: purely
// numeric, 10-13 digits, and not collision-safe.
var legacyIDPattern = regexp.MustCompile(`^\d{10,13}$`)

// IsLegacy reports whether id is a legacy timestamp identifier.
func IsLegacy(id string) bool {
	return legacyIDPattern.MatchString(id)
}

// Normalizer rewrites legacy identifiers to UUIDs and persists the mutation
// back to local storage before any remote attempt uses the new identifier.
type Normalizer struct {
	records *store.Records
}

// NewNormalizer creates a Normalizer writing back through records.
func NewNormalizer(records *store.Records) *Normalizer {
	return &Normalizer{records: records}
}

// Normalize replaces any legacy identifier on rec and its media items with a
// fresh UUID, mutating rec in place, and reports whether anything changed.
// Changed records are written back immediately; a failed write-back is logged
// and swallowed — it is a local persistence problem, not a sync failure.
// Idempotent: UUID-format identifiers are left untouched.
func (n *Normalizer) Normalize(rec *models.WorkRecord) bool {
	if rec == nil {
		return false
	}

	oldID := rec.ID
	changed := false

	if IsLegacy(rec.ID) {
		rec.ID = uuid.New()
		changed = true
		logging.Info("Replaced legacy work record id",
			map[string]interface{}{
				"old_id": oldID,
				"new_id": rec.ID,
			})
	}

	for i := range rec.Media {
		if IsLegacy(rec.Media[i].ID) {
			newID := uuid.New()
			logging.Info("Replaced legacy media id",
				map[string]interface{}{
					"old_id":    rec.Media[i].ID,
					"new_id":    newID,
					"record_id": rec.ID,
				})
			rec.Media[i].ID = newID
			changed = true
		}
	}

	if !changed {
		return false
	}

	// The old primary key no longer resolves, so Replace falls back to
	// matching on (client name, creation timestamp, service type).
	if err := n.records.Replace(oldID, rec); err != nil {
		logging.Error("Failed to persist normalized record", err,
			map[string]interface{}{"record_id": rec.ID})
	}

	return true
}
