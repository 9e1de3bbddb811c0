package store

import (
	"encoding/json"
	"fmt"

	"github.com/probuild/fieldsync/internal/models"
)

// Records layers the work-record corpus on a KV store. The corpus is kept as
// one JSON array under KeyWorkRecords, matching the app's single-blob local
// storage layout.
type Records struct {
	kv KV
}

// NewRecords creates a record repository over kv.
func NewRecords(kv KV) *Records {
	return &Records{kv: kv}
}

// LoadAll returns the full corpus. A missing key is an empty corpus.
func (r *Records) LoadAll() ([]*models.WorkRecord, error) {
	data, ok, err := r.kv.Get(KeyWorkRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to load work records: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var records []*models.WorkRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode work records: %w", err)
	}
	return records, nil
}

// SaveAll persists the full corpus.
func (r *Records) SaveAll(records []*models.WorkRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode work records: %w", err)
	}
	if err := r.kv.Set(KeyWorkRecords, data); err != nil {
		return fmt.Errorf("failed to save work records: %w", err)
	}
	return nil
}

// Get returns the record with the given id.
func (r *Records) Get(id string) (*models.WorkRecord, bool, error) {
	records, err := r.LoadAll()
	if err != nil {
		return nil, false, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, true, nil
		}
	}
	return nil, false, nil
}

// Put replaces the record with the same id, or appends when absent.
func (r *Records) Put(rec *models.WorkRecord) error {
	records, err := r.LoadAll()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range records {
		if existing.ID == rec.ID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	return r.SaveAll(records)
}

// Replace swaps the stored entry identified by oldID with rec. When the
// primary-key lookup misses (the key itself just changed), it falls back to
// matching on (client name, creation timestamp, service type) so a renamed
// record updates in place instead of creating a duplicate local entry.
func (r *Records) Replace(oldID string, rec *models.WorkRecord) error {
	records, err := r.LoadAll()
	if err != nil {
		return err
	}

	idx := -1
	for i, existing := range records {
		if existing.ID == oldID {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i, existing := range records {
			if existing.ClientName == rec.ClientName &&
				existing.CreatedAt == rec.CreatedAt &&
				existing.ServiceType == rec.ServiceType {
				idx = i
				break
			}
		}
	}

	if idx >= 0 {
		records[idx] = rec
	} else {
		records = append(records, rec)
	}
	return r.SaveAll(records)
}

// Delete removes the record with the given id, if present.
func (r *Records) Delete(id string) error {
	records, err := r.LoadAll()
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, rec := range records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	return r.SaveAll(kept)
}
