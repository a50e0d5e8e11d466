package ledger

import (
	"context"
	"time"

	"github.com/medrex/medchain/pkg/rbac"
	"github.com/medrex/medchain/pkg/repository"
	"github.com/medrex/medchain/pkg/types"
)

// GrantAccess gives doctorID read access to all of the calling patient's
// records. duration <= 0 means the grant never expires. Any earlier grant for
// the same pair is replaced entirely.
func (s *Service) GrantAccess(ctx context.Context, callerID, doctorID string, duration time.Duration, purpose string) error {
	_, err := s.GrantAccessStatus(ctx, callerID, doctorID, duration, purpose)
	return err
}

// GrantAccessStatus is GrantAccess returning the status of the grant it stored
func (s *Service) GrantAccessStatus(ctx context.Context, callerID, doctorID string, duration time.Duration, purpose string) (types.AccessStatus, error) {
	var stored types.AccessGrant
	err := s.update(ctx, "grantAccess", callerID, func(tx repository.LedgerTx) ([]types.Event, error) {
		patient, err := loadUser(ctx, tx, callerID)
		if err != nil {
			return nil, err
		}
		if err := rbac.Require(rbac.Subject{User: patient}, rbac.CapabilityGrantAccess); err != nil {
			return nil, err
		}

		doctor, err := loadUser(ctx, tx, doctorID)
		if err != nil {
			return nil, err
		}
		if !doctor.Registered {
			return nil, types.ErrGranteeNotRegistered
		}
		if doctor.Role != types.RoleDoctor {
			return nil, types.ErrGranteeNotDoctor
		}

		now := s.clock.Now()
		grant := types.AccessGrant{
			PatientID: callerID,
			DoctorID:  doctorID,
			GrantedAt: now,
			Active:    true,
			Purpose:   purpose,
		}
		if duration > 0 {
			grant.ExpiresAt = now.Add(duration)
		}
		if err := tx.PutGrant(ctx, &grant); err != nil {
			return nil, err
		}
		if err := s.recordAction(ctx, tx, callerID, 0, types.ActionGrantAccess, now); err != nil {
			return nil, err
		}
		stored = grant
		return []types.Event{types.NewAccessGrantedEvent(grant)}, nil
	})
	if err != nil {
		return types.AccessStatus{}, err
	}
	return stored.StatusAt(stored.GrantedAt), nil
}

// RevokeAccess deactivates the caller's grant to doctorID. A grant that has
// expired but was never revoked can still be revoked.
func (s *Service) RevokeAccess(ctx context.Context, callerID, doctorID string) error {
	return s.update(ctx, "revokeAccess", callerID, func(tx repository.LedgerTx) ([]types.Event, error) {
		grant, err := tx.GetGrant(ctx, callerID, doctorID)
		if err != nil {
			return nil, err
		}
		if grant == nil || !grant.Active {
			return nil, types.ErrNoActivePermission
		}

		now := s.clock.Now()
		grant.Active = false
		if err := tx.PutGrant(ctx, grant); err != nil {
			return nil, err
		}
		if err := s.recordAction(ctx, tx, callerID, 0, types.ActionRevokeAccess, now); err != nil {
			return nil, err
		}
		return []types.Event{types.NewAccessRevokedEvent(callerID, doctorID, now)}, nil
	})
}

// CheckAccess evaluates the (patient, doctor) grant against the current time
func (s *Service) CheckAccess(ctx context.Context, patientID, doctorID string) (types.AccessStatus, error) {
	var status types.AccessStatus
	err := s.view(ctx, "checkAccess", patientID, func(r repository.LedgerReader) error {
		grant, err := r.GetGrant(ctx, patientID, doctorID)
		if err != nil || grant == nil {
			return err
		}
		status = grant.StatusAt(s.clock.Now())
		return nil
	})
	return status, err
}
