package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/medrex/medchain/internal/ledger"
	"github.com/medrex/medchain/pkg/logger"
	"github.com/medrex/medchain/pkg/types"
)

// MedAccessContract exposes the access and audit ledger as Fabric transactions.
// Each transaction runs the ledger engine over the world state, with the
// transaction timestamp as its clock and the client identity as caller.
type MedAccessContract struct {
	contractapi.Contract
}

var log = logger.New("info")

// UserInfo is the on-chain view of a participant
type UserInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Registered   bool   `json:"registered"`
	RegisteredAt int64  `json:"registered_at"`
}

// RecordInfo is the on-chain view of a record's metadata
type RecordInfo struct {
	ID               uint64 `json:"id"`
	OwnerID          string `json:"owner_id"`
	PayloadReference string `json:"payload_reference"`
	RecordType       string `json:"record_type"`
	Description      string `json:"description"`
	CreatedAt        int64  `json:"created_at"`
}

// AccessInfo answers CheckAccess. Times are unix seconds, 0 when unset.
type AccessInfo struct {
	Valid     bool   `json:"valid"`
	GrantedAt int64  `json:"granted_at"`
	ExpiresAt int64  `json:"expires_at"`
	Purpose   string `json:"purpose"`
}

// AuditEntryInfo is one entry of an actor's audit trail
type AuditEntryInfo struct {
	ActorID   string `json:"actor_id"`
	RecordID  uint64 `json:"record_id"`
	Timestamp int64  `json:"timestamp"`
	Action    string `json:"action"`
}

// StatsInfo is the ledger-wide summary
type StatsInfo struct {
	TotalRecords    uint64 `json:"total_records"`
	EmergencyActive bool   `json:"emergency_active"`
}

// txClock is the transaction timestamp, identical on every endorsing peer
type txClock struct {
	at time.Time
}

func (c txClock) Now() time.Time { return c.at }

// stubPublisher turns ledger notifications into chaincode events
type stubPublisher struct {
	stub shim.ChaincodeStubInterface
}

func (p stubPublisher) Publish(event types.Event) {
	// event ids must agree across endorsers
	event.ID = p.stub.GetTxID()
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithComponent("chaincode").WithError(err).Error("Failed to encode chaincode event")
		return
	}
	if err := p.stub.SetEvent(string(event.Type), payload); err != nil {
		log.WithComponent("chaincode").WithError(err).Error("Failed to set chaincode event")
	}
}

// engine builds the ledger engine for one transaction
func engine(ctx contractapi.TransactionContextInterface) (*ledger.Service, error) {
	stub := ctx.GetStub()
	ts, err := stub.GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction timestamp: %w", err)
	}
	return ledger.NewService(
		newWorldState(stub),
		log,
		ledger.WithClock(txClock{at: ts.AsTime().UTC()}),
		ledger.WithPublisher(stubPublisher{stub: stub}),
	), nil
}

// callerID returns the submitting client's identity
func callerID(ctx contractapi.TransactionContextInterface) (string, error) {
	id, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client identity: %w", err)
	}
	return id, nil
}

// engineAndCaller is the common prologue of transactions acting as the caller
func engineAndCaller(ctx contractapi.TransactionContextInterface) (*ledger.Service, string, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, "", err
	}
	svc, err := engine(ctx)
	if err != nil {
		return nil, "", err
	}
	return svc, caller, nil
}

// InitLedger makes the deploying identity the administrator
func (c *MedAccessContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	svc, caller, err := engineAndCaller(ctx)
	if err != nil {
		return err
	}
	return svc.Bootstrap(context.Background(), caller)
}

// RegisterUser registers the caller as a patient or doctor
func (c *MedAccessContract) RegisterUser(ctx contractapi.TransactionContextInterface, name string, role string) (*UserInfo, error) {
	svc, caller, err := engineAndCaller(ctx)
	if err != nil {
		return nil, err
	}
	if err := svc.RegisterUser(context.Background(), caller, name, types.ParseRole(role)); err != nil {
		return nil, err
	}
	user, err := svc.GetUserInfo(context.Background(), caller)
	if err != nil {
		return nil, err
	}
	return toUserInfo(user), nil
}

// GetUserInfo returns the participant snapshot, unregistered identities included
func (c *MedAccessContract) GetUserInfo(ctx contractapi.TransactionContextInterface, userID string) (*UserInfo, error) {
	svc, err := engine(ctx)
	if err != nil {
		return nil, err
	}
	user, err := svc.GetUserInfo(context.Background(), userID)
	if err != nil {
		return nil, err
	}
	return toUserInfo(user), nil
}

// CreateRecord appends a record owned by the calling patient and returns its id
func (c *MedAccessContract) CreateRecord(ctx contractapi.TransactionContextInterface, payloadReference string, recordType string, description string) (uint64, error) {
	svc, caller, err := engineAndCaller(ctx)
	if err != nil {
		return 0, err
	}
	return svc.CreateRecord(context.Background(), caller, types.CreateRecordRequest{
		PayloadReference: payloadReference,
		RecordType:       recordType,
		Description:      description,
	})
}

// GetRecord returns a record the caller is authorized to read
func (c *MedAccessContract) GetRecord(ctx contractapi.TransactionContextInterface, recordID uint64) (*RecordInfo, error) {
	svc, caller, err := engineAndCaller(ctx)
	if err != nil {
		return nil, err
	}
	record, err := svc.GetRecord(context.Background(), caller, recordID)
	if err != nil {
		return nil, err
	}
	return &RecordInfo{
		ID:               record.ID,
		OwnerID:          record.OwnerID,
		PayloadReference: record.PayloadReference,
		RecordType:       record.RecordType,
		Description:      record.Description,
		CreatedAt:        types.UnixOrZero(record.CreatedAt),
	}, nil
}

// GetPatientRecordIds lists a patient's record ids in creation order
func (c *MedAccessContract) GetPatientRecordIds(ctx contractapi.TransactionContextInterface, patientID string) ([]uint64, error) {
	svc, err := engine(ctx)
	if err != nil {
		return nil, err
	}
	return svc.GetPatientRecordIDs(context.Background(), patientID)
}

// GetDoctorAccessibleRecords lists the records a doctor may read through grants.
// Only the doctor may ask.
func (c *MedAccessContract) GetDoctorAccessibleRecords(ctx contractapi.TransactionContextInterface, doctorID string) ([]uint64, error) {
	svc, caller, err := engineAndCaller(ctx)
	if err != nil {
		return nil, err
	}
	return svc.GetDoctorAccessibleRecords(context.Background(), caller, doctorID)
}

// GrantAccess lets the calling patient grant a doctor access to all their records.
// A duration of 0 never expires.
func (c *MedAccessContract) GrantAccess(ctx contractapi.TransactionContextInterface, doctorID string, durationSeconds uint64, purpose string) error {
	svc, caller, err := engineAndCaller(ctx)
	if err != nil {
		return err
	}
	if durationSeconds > uint64(maxDurationSeconds) {
		durationSeconds = uint64(maxDurationSeconds)
	}
	duration := time.Duration(durationSeconds) * time.Second
	return svc.GrantAccess(context.Background(), caller, doctorID, duration, purpose)
}

// maxDurationSeconds keeps time.Duration from overflowing
const maxDurationSeconds = int64(1<<63-1) / int64(time.Second)

// RevokeAccess deactivates the caller's grant for a doctor
func (c *MedAccessContract) RevokeAccess(ctx contractapi.TransactionContextInterface, doctorID string) error {
	svc, caller, err := engineAndCaller(ctx)
	if err != nil {
		return err
	}
	return svc.RevokeAccess(context.Background(), caller, doctorID)
}

// CheckAccess reports the grant between a patient and a doctor
func (c *MedAccessContract) CheckAccess(ctx contractapi.TransactionContextInterface, patientID string, doctorID string) (*AccessInfo, error) {
	svc, err := engine(ctx)
	if err != nil {
		return nil, err
	}
	status, err := svc.CheckAccess(context.Background(), patientID, doctorID)
	if err != nil {
		return nil, err
	}
	return &AccessInfo{
		Valid:     status.Valid,
		GrantedAt: types.UnixOrZero(status.GrantedAt),
		ExpiresAt: types.UnixOrZero(status.ExpiresAt),
		Purpose:   status.Purpose,
	}, nil
}

// GetAuditTrail returns an actor's audit entries in append order
func (c *MedAccessContract) GetAuditTrail(ctx contractapi.TransactionContextInterface, actorID string) ([]AuditEntryInfo, error) {
	svc, err := engine(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := svc.GetAuditTrail(context.Background(), actorID)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntryInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryInfo{
			ActorID:   e.ActorID,
			RecordID:  e.RecordID,
			Timestamp: types.UnixOrZero(e.Timestamp),
			Action:    string(e.Action),
		})
	}
	return out, nil
}

// ToggleEmergencyMode flips the global emergency flag. Admin only.
func (c *MedAccessContract) ToggleEmergencyMode(ctx contractapi.TransactionContextInterface) (bool, error) {
	svc, caller, err := engineAndCaller(ctx)
	if err != nil {
		return false, err
	}
	return svc.ToggleEmergencyMode(context.Background(), caller)
}

// GetStats returns the record count and emergency flag
func (c *MedAccessContract) GetStats(ctx contractapi.TransactionContextInterface) (*StatsInfo, error) {
	svc, err := engine(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := svc.GetStats(context.Background())
	if err != nil {
		return nil, err
	}
	return &StatsInfo{TotalRecords: stats.TotalRecords, EmergencyActive: stats.EmergencyActive}, nil
}

func toUserInfo(user types.User) *UserInfo {
	return &UserInfo{
		ID:           user.ID,
		Name:         user.Name,
		Role:         string(user.Role),
		Registered:   user.Registered,
		RegisteredAt: types.UnixOrZero(user.RegisteredAt),
	}
}
