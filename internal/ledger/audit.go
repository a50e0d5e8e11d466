package ledger

import (
	"context"
	"time"

	"github.com/medrex/medchain/pkg/repository"
	"github.com/medrex/medchain/pkg/types"
)

// recordAction appends to the actor's trail inside the caller's transaction
func (s *Service) recordAction(ctx context.Context, tx repository.LedgerTx, actorID string, recordID uint64, action types.AuditAction, at time.Time) error {
	entry := types.AuditEntry{
		ActorID:   actorID,
		RecordID:  recordID,
		Timestamp: at,
		Action:    action,
	}
	if err := tx.AppendAuditEntry(ctx, &entry); err != nil {
		return err
	}
	s.metrics.RecordAuditEntry(string(action))
	return nil
}

// GetAuditTrail returns the actor's full trail, oldest first
func (s *Service) GetAuditTrail(ctx context.Context, actorID string) ([]types.AuditEntry, error) {
	var entries []types.AuditEntry
	err := s.view(ctx, "getAuditTrail", actorID, func(r repository.LedgerReader) error {
		var err error
		entries, err = r.GetAuditTrail(ctx, actorID, 0, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []types.AuditEntry{}
	}
	return entries, nil
}

// GetAuditTrailPage returns a window of the actor's trail. limit <= 0 returns
// everything from offset on.
func (s *Service) GetAuditTrailPage(ctx context.Context, actorID string, offset, limit int) (types.AuditPage, error) {
	if offset < 0 {
		offset = 0
	}
	page := types.AuditPage{ActorID: actorID, Offset: offset, Limit: limit}
	err := s.view(ctx, "getAuditTrail", actorID, func(r repository.LedgerReader) error {
		total, err := r.CountAuditEntries(ctx, actorID)
		if err != nil {
			return err
		}
		entries, err := r.GetAuditTrail(ctx, actorID, offset, limit)
		if err != nil {
			return err
		}
		page.Total = total
		page.Entries = entries
		return nil
	})
	if err != nil {
		return types.AuditPage{}, err
	}
	if page.Entries == nil {
		page.Entries = []types.AuditEntry{}
	}
	return page, nil
}
