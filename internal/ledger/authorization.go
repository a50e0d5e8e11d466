package ledger

import (
	"context"

	"github.com/medrex/medchain/pkg/rbac"
	"github.com/medrex/medchain/pkg/repository"
	"github.com/medrex/medchain/pkg/types"
)

// decide gathers the facts the record-read predicate needs and evaluates it
func (s *Service) decide(ctx context.Context, r repository.LedgerReader, actorID string, record types.MedicalRecord) (rbac.AccessDecision, error) {
	actor, err := loadUser(ctx, r, actorID)
	if err != nil {
		return rbac.AccessDecision{}, err
	}
	adminID, err := r.GetAdminID(ctx)
	if err != nil {
		return rbac.AccessDecision{}, err
	}
	emergency, err := r.GetEmergencyMode(ctx)
	if err != nil {
		return rbac.AccessDecision{}, err
	}
	grant, err := r.GetGrant(ctx, record.OwnerID, actorID)
	if err != nil {
		return rbac.AccessDecision{}, err
	}

	decision := rbac.Decide(rbac.AccessRequest{
		Actor:           rbac.NewSubject(actor, adminID),
		Record:          record,
		Grant:           grant,
		EmergencyActive: emergency,
		Now:             s.clock.Now(),
	})
	s.metrics.RecordAuthorization(string(decision.Reason))
	return decision, nil
}

// Authorize answers whether actorID may read recordID now, and why
func (s *Service) Authorize(ctx context.Context, actorID string, recordID uint64) (rbac.AccessDecision, error) {
	var decision rbac.AccessDecision
	err := s.view(ctx, "authorize", actorID, func(r repository.LedgerReader) error {
		rec, err := r.GetRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if rec == nil {
			return types.ErrRecordNotFound
		}
		decision, err = s.decide(ctx, r, actorID, *rec)
		return err
	})
	return decision, err
}

// IsAuthorized is Authorize without the reason
func (s *Service) IsAuthorized(ctx context.Context, actorID string, recordID uint64) (bool, error) {
	decision, err := s.Authorize(ctx, actorID, recordID)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}
