// Package sync implements idempotent reconciliation of local work records
// against the remote store.
package sync

import (
	"context"
	"os"

	apperrors "github.com/probuild/fieldsync/internal/errors"
	"github.com/probuild/fieldsync/internal/ident"
	"github.com/probuild/fieldsync/internal/logging"
	"github.com/probuild/fieldsync/internal/media"
	"github.com/probuild/fieldsync/internal/models"
	"github.com/probuild/fieldsync/internal/remote"
)

// Remote table and bucket names.
const (
	TableWorkRecords = "work_records"
	TablePhotos      = "work_record_photos"
	BucketPhotos     = "work-photos"
)

// Outcome reports reconciliation results in units of work records. A record
// counts as one failed unit when any of its media items failed, even though
// the record attributes themselves synced.
type Outcome struct {
	Synced int
	Failed int
}

// Add folds another outcome into this one.
func (o *Outcome) Add(other *Outcome) {
	o.Synced += other.Synced
	o.Failed += other.Failed
}

// Reconciler performs the idempotent create-or-update operation for a single
// work record and its photos.
type Reconciler struct {
	remote     remote.Store
	session    remote.Session
	normalizer *ident.Normalizer
	preparer   *media.Preparer
}

// RecordReconciler is the contract the queue and scheduler drive.
type RecordReconciler interface {
	Reconcile(ctx context.Context, rec *models.WorkRecord) (*Outcome, error)
}

// NewReconciler creates a Reconciler.
func NewReconciler(store remote.Store, session remote.Session, normalizer *ident.Normalizer, preparer *media.Preparer) *Reconciler {
	return &Reconciler{
		remote:     store,
		session:    session,
		normalizer: normalizer,
		preparer:   preparer,
	}
}

// Reconcile brings the remote representation of rec up to date. Every step is
// idempotent, so a retry after a partial success is safe. An absent session is
// the one fatal error; everything else is absorbed into the outcome counts and
// classified as retryable by the caller.
func (r *Reconciler) Reconcile(ctx context.Context, rec *models.WorkRecord) (*Outcome, error) {
	user, ok := r.session.CurrentUser()
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotAuthenticated, "no active session")
	}

	r.normalizer.Normalize(rec)

	if err := r.upsertRecord(ctx, user, rec); err != nil {
		return &Outcome{Failed: 1}, err
	}

	// Each media item is independent: a failed item never aborts the rest.
	mediaFailed := 0
	for i := range rec.Media {
		if err := r.syncMedia(ctx, user, rec, &rec.Media[i]); err != nil {
			mediaFailed++
			logging.Error("Failed to sync media item", err,
				map[string]interface{}{
					"record_id": rec.ID,
					"media_id":  rec.Media[i].ID,
				})
		}
	}

	if mediaFailed > 0 {
		logging.Warn("Work record synced with media failures",
			map[string]interface{}{
				"record_id":    rec.ID,
				"media_failed": mediaFailed,
				"media_total":  len(rec.Media),
			})
		return &Outcome{Failed: 1}, nil
	}

	return &Outcome{Synced: 1}, nil
}

// upsertRecord writes the work-record attributes, choosing the create or
// update branch by an existence probe.
func (r *Reconciler) upsertRecord(ctx context.Context, user *remote.User, rec *models.WorkRecord) error {
	filter := remote.Filter{"id": rec.ID, "user_id": user.ID}

	exists := false
	rows, err := r.remote.Select(ctx, TableWorkRecords, filter)
	if err != nil {
		// A failed probe only steers us onto the insert path; the insert
		// conflict handling below self-heals if the row was there all along.
		logging.Warn("Existence probe failed, assuming record does not exist",
			map[string]interface{}{"record_id": rec.ID, "error": err.Error()})
	} else {
		exists = len(rows) > 0
	}

	row := recordRow(user, rec)

	if exists {
		if err := r.remote.Update(ctx, TableWorkRecords, row, filter); err != nil {
			return apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to update work record", err)
		}
		return nil
	}

	if err := r.remote.Insert(ctx, TableWorkRecords, row); err != nil {
		if !remote.IsConflict(err) {
			return apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to insert work record", err)
		}
		// A previous attempt partially succeeded; converge via update.
		logging.Info("Insert conflict on work record, updating instead",
			map[string]interface{}{"record_id": rec.ID})
		if err := r.remote.Update(ctx, TableWorkRecords, row, filter); err != nil {
			return apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to update work record after conflict", err)
		}
	}
	return nil
}

// syncMedia uploads one photo and its metadata row unless it is already
// present remotely.
func (r *Reconciler) syncMedia(ctx context.Context, user *remote.User, rec *models.WorkRecord, item *models.MediaItem) error {
	rows, err := r.remote.Select(ctx, TablePhotos, remote.Filter{"id": item.ID})
	if err == nil && len(rows) > 0 {
		// Already synced; never re-upload the bytes.
		logging.Debug("Media item already present remotely, skipping upload",
			map[string]interface{}{"media_id": item.ID})
		return nil
	}

	prepared, err := r.preparer.Prepare(item.LocalRef)
	if err != nil {
		return err
	}
	defer os.Remove(prepared.Path)

	data, err := os.ReadFile(prepared.Path)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to read prepared media", err)
	}

	path := item.RemotePath(user.ID, rec.ID)
	if err := r.remote.UploadFile(ctx, BucketPhotos, path, data); err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUpload, "failed to upload media bytes", err)
	}

	row := remote.Row{
		"id":              item.ID,
		"work_record_id":  rec.ID,
		"user_id":         user.ID,
		"phase":           string(item.Phase),
		"captured_at":     item.CapturedAt,
		"storage_path":    path,
		"original_size":   prepared.OriginalSize,
		"compressed_size": prepared.CompressedSize,
	}

	if err := r.remote.Insert(ctx, TablePhotos, row); err != nil {
		if !remote.IsConflict(err) {
			return apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to insert media metadata", err)
		}
		if err := r.remote.Update(ctx, TablePhotos, row, remote.Filter{"id": item.ID}); err != nil {
			return apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to update media metadata after conflict", err)
		}
	}
	return nil
}

// recordRow maps a work record onto its remote row shape.
func recordRow(user *remote.User, rec *models.WorkRecord) remote.Row {
	row := remote.Row{
		"id":            rec.ID,
		"user_id":       user.ID,
		"client_name":   rec.ClientName,
		"service_type":  rec.ServiceType,
		"status":        string(rec.Status),
		"signature_ref": rec.SignatureRef,
		"created_at":    rec.CreatedAt,
	}
	if rec.CompletedAt != nil {
		row["completed_at"] = *rec.CompletedAt
	}
	return row
}
