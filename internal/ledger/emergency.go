package ledger

import (
	"context"

	"github.com/medrex/medchain/pkg/rbac"
	"github.com/medrex/medchain/pkg/repository"
	"github.com/medrex/medchain/pkg/types"
)

// ToggleEmergencyMode flips the global override and returns the new state.
// Only the administrator may call it; the toggle is not audited.
func (s *Service) ToggleEmergencyMode(ctx context.Context, callerID string) (bool, error) {
	var active bool
	err := s.update(ctx, "toggleEmergencyMode", callerID, func(tx repository.LedgerTx) ([]types.Event, error) {
		caller, err := loadUser(ctx, tx, callerID)
		if err != nil {
			return nil, err
		}
		adminID, err := tx.GetAdminID(ctx)
		if err != nil {
			return nil, err
		}
		if err := rbac.RequireAdmin(rbac.NewSubject(caller, adminID)); err != nil {
			return nil, err
		}

		current, err := tx.GetEmergencyMode(ctx)
		if err != nil {
			return nil, err
		}
		active = !current
		if err := tx.SetEmergencyMode(ctx, active); err != nil {
			return nil, err
		}
		return []types.Event{types.NewEmergencyModeToggledEvent(active, s.clock.Now())}, nil
	})
	if err != nil {
		return false, err
	}
	s.metrics.SetEmergencyMode(active)
	return active, nil
}

// GetStats returns the record total and the emergency flag
func (s *Service) GetStats(ctx context.Context) (types.Stats, error) {
	var stats types.Stats
	err := s.view(ctx, "getStats", "", func(r repository.LedgerReader) error {
		count, err := r.RecordCount(ctx)
		if err != nil {
			return err
		}
		active, err := r.GetEmergencyMode(ctx)
		if err != nil {
			return err
		}
		stats = types.Stats{TotalRecords: count, EmergencyActive: active}
		return nil
	})
	return stats, err
}
