package ledger

import (
	"context"

	"github.com/medrex/medchain/pkg/rbac"
	"github.com/medrex/medchain/pkg/repository"
	"github.com/medrex/medchain/pkg/types"
)

// CreateRecord stores record metadata owned by the calling patient and returns its id
func (s *Service) CreateRecord(ctx context.Context, callerID string, req types.CreateRecordRequest) (uint64, error) {
	var id uint64
	err := s.update(ctx, "createRecord", callerID, func(tx repository.LedgerTx) ([]types.Event, error) {
		owner, err := loadUser(ctx, tx, callerID)
		if err != nil {
			return nil, err
		}
		if err := rbac.Require(rbac.Subject{User: owner}, rbac.CapabilityCreateRecord); err != nil {
			return nil, err
		}
		if req.PayloadReference == "" {
			return nil, types.ErrEmptyPayloadReference
		}

		count, err := tx.RecordCount(ctx)
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		record := types.MedicalRecord{
			ID:               count + 1,
			OwnerID:          callerID,
			PayloadReference: req.PayloadReference,
			RecordType:       req.RecordType,
			Description:      req.Description,
			CreatedAt:        now,
		}
		if err := tx.PutRecord(ctx, &record); err != nil {
			return nil, err
		}
		if err := s.recordAction(ctx, tx, callerID, record.ID, types.ActionCreate, now); err != nil {
			return nil, err
		}

		id = record.ID
		return []types.Event{types.NewRecordCreatedEvent(record)}, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetRecord returns a record the caller is authorized to read. Reads are not audited.
func (s *Service) GetRecord(ctx context.Context, callerID string, recordID uint64) (*types.MedicalRecord, error) {
	var record *types.MedicalRecord
	err := s.view(ctx, "getRecord", callerID, func(r repository.LedgerReader) error {
		rec, err := r.GetRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if rec == nil {
			return types.ErrRecordNotFound
		}

		decision, err := s.decide(ctx, r, callerID, *rec)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return types.ErrUnauthorized
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetPatientRecordIDs returns the patient's record ids in creation order
func (s *Service) GetPatientRecordIDs(ctx context.Context, patientID string) ([]uint64, error) {
	var ids []uint64
	err := s.view(ctx, "getPatientRecordIds", patientID, func(r repository.LedgerReader) error {
		var err error
		ids, err = r.GetPatientRecordIDs(ctx, patientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// GetDoctorAccessibleRecords lists, for the calling doctor only, the ids of
// records whose owner holds a valid grant to them. Emergency mode and the
// administrator bypass are not consulted here.
func (s *Service) GetDoctorAccessibleRecords(ctx context.Context, callerID, doctorID string) ([]uint64, error) {
	ids := []uint64{}
	err := s.view(ctx, "getDoctorAccessibleRecords", callerID, func(r repository.LedgerReader) error {
		caller, err := loadUser(ctx, r, callerID)
		if err != nil {
			return err
		}
		if err := rbac.Require(rbac.Subject{User: caller}, rbac.CapabilityListAccessibleRecords); err != nil {
			return err
		}
		if doctorID != callerID {
			return types.ErrUnauthorized
		}

		records, err := r.ListRecords(ctx)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		grants := make(map[string]bool)
		for _, rec := range records {
			valid, seen := grants[rec.OwnerID]
			if !seen {
				grant, err := r.GetGrant(ctx, rec.OwnerID, doctorID)
				if err != nil {
					return err
				}
				valid = grant != nil && grant.ValidAt(now)
				grants[rec.OwnerID] = valid
			}
			if valid {
				ids = append(ids, rec.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
