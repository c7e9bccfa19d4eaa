package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/models"
)

// StagingService owns the staging area: batch creation, batch context reads
// and the expiry sweep for abandoned batches.
type StagingService struct {
	db *sql.DB
}

func NewStagingService(db *sql.DB) *StagingService {
	return &StagingService{db: db}
}

// CreateBatch persists the audited entries as pending staging items under a
// fresh batch id. temp_id = index+1 in input order; that numbering is what
// the user and the instruction layer reference, so input order is preserved.
func (s *StagingService) CreateBatch(ctx context.Context, userID int64, entries []models.ParsedEntry) (string, error) {
	batchID := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("staging: begin batch creation: %w", err)
	}
	defer tx.Rollback()

	for i := range entries {
		entries[i].TempID = i + 1
		blob, err := models.MarshalEntry(entries[i])
		if err != nil {
			return "", fmt.Errorf("staging: serialize entry %d: %w", i+1, err)
		}
		item := &model.StagingItem{
			UserID:      userID,
			BatchID:     batchID,
			TempID:      i + 1,
			EntryJSON:   string(blob),
			IsDuplicate: entries[i].IsDuplicate,
			Status:      model.StatusPending,
		}
		if err := item.Insert(ctx, tx); err != nil {
			return "", fmt.Errorf("staging: insert item %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("staging: commit batch creation: %w", err)
	}

	logger.FromContext(ctx).Info("Staging batch created", "batchID", batchID, "items", len(entries))
	return batchID, nil
}

// GetBatchContext returns every item of the batch regardless of status, plus
// the user's categories, payees and assets for instruction grounding. A batch id with no items
// yields an empty item list: callers treat that as a valid already-resolved
// (or never-existed) state.
func (s *StagingService) GetBatchContext(ctx context.Context, userID int64, batchID string) (models.BatchContext, error) {
	bctx := models.BatchContext{BatchID: batchID}

	items, err := model.GetBatchItems(ctx, s.db, userID, batchID)
	if err != nil {
		return bctx, fmt.Errorf("staging: load batch items: %w", err)
	}
	for _, item := range items {
		entry, err := item.Entry()
		if err != nil {
			return bctx, fmt.Errorf("staging: decode item %d: %w", item.TempID, err)
		}
		entry.TempID = item.TempID
		bctx.Items = append(bctx.Items, models.BatchItem{
			TempID: item.TempID,
			Status: item.Status,
			Entry:  entry,
		})
	}

	categories, err := model.GetCategories(ctx, s.db, userID)
	if err != nil {
		return bctx, fmt.Errorf("staging: load categories: %w", err)
	}
	for _, c := range categories {
		bctx.Categories = append(bctx.Categories, models.CategoryRef{Main: c.MainName, Sub: c.SubName})
	}

	if bctx.Payees, err = model.PayeeNames(ctx, s.db, userID); err != nil {
		return bctx, fmt.Errorf("staging: load payees: %w", err)
	}
	if bctx.Assets, err = model.AssetNames(ctx, s.db, userID); err != nil {
		return bctx, fmt.Errorf("staging: load assets: %w", err)
	}

	return bctx, nil
}

// ExpireStale transitions pending items older than threshold to expired.
// Idempotent, and safe to run concurrently with confirmation flows: the
// update only matches rows still pending at sweep time.
func (s *StagingService) ExpireStale(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold)
	expired, err := model.ExpirePendingOlderThan(ctx, s.db, cutoff)
	if err != nil {
		return 0, fmt.Errorf("staging: expiry sweep: %w", err)
	}
	if expired > 0 {
		logger.L.Info("Expired stale staging items", "count", expired, "threshold", threshold.String())
	}
	return expired, nil
}
