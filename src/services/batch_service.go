package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sunnywifi/ledgerline/backend/src/fingerprint"
	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/models"
)

// Source channel tags recorded on promoted ledger entries.
const (
	SourceDirect      = "api"      // direct confirm_all / reject_all endpoint
	SourceInstruction = "interact" // instruction-driven confirmation
)

// BatchService is the reconciliation engine: it applies structured action
// lists to a staged batch and promotes accepted entries into the ledger.
// Every entry point runs inside one transaction: either the whole action
// list commits or none of it does.
type BatchService struct {
	db      *sql.DB
	learner *CategoryLearner
}

func NewBatchService(db *sql.DB, learner *CategoryLearner) *BatchService {
	return &BatchService{db: db, learner: learner}
}

// promote turns one pending staging item into a ledger entry and marks it
// confirmed. The staged fingerprint is reused when present, recomputed
// otherwise. A (user, fingerprint) uniqueness violation comes back as a
// CONFLICT AppError so the enclosing transaction aborts.
func (s *BatchService) promote(ctx context.Context, tx *sql.Tx, item *model.StagingItem, sourceChannel string) error {
	entry, err := item.Entry()
	if err != nil {
		return fmt.Errorf("batch: decode item %d: %w", item.TempID, err)
	}

	if entry.Remark != "" && entry.MainCategory != "" {
		if err := s.learner.LearnFromCorrection(ctx, tx, item.UserID, entry.Remark, entry.MainCategory, entry.SubCategory); err != nil {
			return err
		}
	}

	if entry.Fingerprint == "" {
		entry.Fingerprint = fingerprint.Generate(item.UserID, entry.Date, entry.Amount, entry.Remark, entry.Payee)
	}

	expense := model.ExpenseFromEntry(item.UserID, entry, sourceChannel)
	if err := expense.Insert(ctx, tx); err != nil {
		if model.IsUniqueConstraintErr(err) {
			return NewAppError(CodeConflict,
				fmt.Sprintf("item %d duplicates an existing ledger entry", item.TempID),
				ErrFingerprintConflict)
		}
		return fmt.Errorf("batch: insert ledger entry for item %d: %w", item.TempID, err)
	}

	if _, err := model.TransitionStatus(ctx, tx, item.UserID, item.BatchID, item.TempID,
		model.StatusPending, model.StatusConfirmed); err != nil {
		return fmt.Errorf("batch: confirm item %d: %w", item.TempID, err)
	}
	return nil
}

// applyConfirm promotes each still-pending target; stale or unknown temp_ids
// are silently skipped so instructions referencing already-resolved items are
// harmless no-ops. An empty target list is a valid no-op.
func (s *BatchService) applyConfirm(ctx context.Context, tx *sql.Tx, userID int64, batchID string, targets []int) error {
	for _, tempID := range targets {
		item, err := model.GetPendingItem(ctx, tx, userID, batchID, tempID)
		if err != nil {
			return fmt.Errorf("batch: resolve item %d: %w", tempID, err)
		}
		if item == nil {
			continue
		}
		if err := s.promote(ctx, tx, item, SourceInstruction); err != nil {
			return err
		}
	}
	return nil
}

// applyModify patches each still-pending target in place. The fingerprint is
// always recomputed, since date/amount/remark/payee may have changed.
func (s *BatchService) applyModify(ctx context.Context, tx *sql.Tx, userID int64, batchID string, targets []int, patch *models.EntryPatch) error {
	for _, tempID := range targets {
		item, err := model.GetPendingItem(ctx, tx, userID, batchID, tempID)
		if err != nil {
			return fmt.Errorf("batch: resolve item %d: %w", tempID, err)
		}
		if item == nil {
			continue
		}

		entry, err := item.Entry()
		if err != nil {
			return fmt.Errorf("batch: decode item %d: %w", tempID, err)
		}
		patch.Apply(&entry)
		entry.Fingerprint = fingerprint.Generate(userID, entry.Date, entry.Amount, entry.Remark, entry.Payee)

		blob, err := models.MarshalEntry(entry)
		if err != nil {
			return fmt.Errorf("batch: serialize item %d: %w", tempID, err)
		}
		if err := item.UpdateEntryJSON(ctx, tx, string(blob)); err != nil {
			return fmt.Errorf("batch: update item %d: %w", tempID, err)
		}
	}
	return nil
}

// ApplyActions executes the action list in order inside one transaction.
// Atomicity covers the whole list: any failure rolls every transition back.
func (s *BatchService) ApplyActions(ctx context.Context, userID int64, batchID string, actions []models.Action) error {
	for _, action := range actions {
		if err := action.Validate(); err != nil {
			return NewAppError(CodeValidation, err.Error(), err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("batch: begin action transaction: %w", err)
	}
	defer tx.Rollback()

	for _, action := range actions {
		switch action.Type {
		case models.ActionConfirm:
			err = s.applyConfirm(ctx, tx, userID, batchID, action.Targets)
		case models.ActionModify:
			err = s.applyModify(ctx, tx, userID, batchID, action.Targets, action.Modifications)
		case models.ActionDelete:
			err = model.RejectItems(ctx, tx, userID, batchID, action.Targets)
		case models.ActionCancelAll:
			err = model.RejectBatch(ctx, tx, userID, batchID)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("batch: commit action transaction: %w", err)
	}

	logger.FromContext(ctx).Info("Batch actions applied", "batchID", batchID, "actions", len(actions))
	return nil
}

// ConfirmAll promotes every pending item of the batch in ascending temp_id
// order and returns the count confirmed.
func (s *BatchService) ConfirmAll(ctx context.Context, userID int64, batchID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("batch: begin confirm-all transaction: %w", err)
	}
	defer tx.Rollback()

	items, err := model.GetPendingBatchItems(ctx, tx, userID, batchID)
	if err != nil {
		return 0, fmt.Errorf("batch: load pending items: %w", err)
	}

	confirmed := 0
	for i := range items {
		if err := s.promote(ctx, tx, &items[i], SourceDirect); err != nil {
			return 0, err
		}
		confirmed++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("batch: commit confirm-all transaction: %w", err)
	}

	logger.FromContext(ctx).Info("Batch confirmed", "batchID", batchID, "confirmed", confirmed)
	return confirmed, nil
}

// RejectAll forces every item of the batch to rejected, equivalent to a
// cancel_all action.
func (s *BatchService) RejectAll(ctx context.Context, userID int64, batchID string) error {
	if err := model.RejectBatch(ctx, s.db, userID, batchID); err != nil {
		return fmt.Errorf("batch: reject all: %w", err)
	}
	logger.FromContext(ctx).Info("Batch rejected", "batchID", batchID)
	return nil
}
