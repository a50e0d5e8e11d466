package types

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a state-change notification
type EventType string

const (
	EventUserRegistered       EventType = "UserRegistered"
	EventRecordCreated        EventType = "RecordCreated"
	EventAccessGranted        EventType = "AccessGranted"
	EventAccessRevoked        EventType = "AccessRevoked"
	EventEmergencyModeToggled EventType = "EmergencyModeToggled"
	// EventRecordAccessed is part of the notification vocabulary but no read path emits it.
	EventRecordAccessed EventType = "RecordAccessed"
)

// Event is the envelope delivered to notification subscribers
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

func newEvent(eventType EventType, at time.Time, data map[string]interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: at,
		Data:       data,
	}
}

// NewUserRegisteredEvent builds the UserRegistered notification
func NewUserRegisteredEvent(user User) Event {
	return newEvent(EventUserRegistered, user.RegisteredAt, map[string]interface{}{
		"user_id": user.ID,
		"name":    user.Name,
		"role":    string(user.Role),
	})
}

// NewRecordCreatedEvent builds the RecordCreated notification
func NewRecordCreatedEvent(record MedicalRecord) Event {
	return newEvent(EventRecordCreated, record.CreatedAt, map[string]interface{}{
		"record_id":   record.ID,
		"owner_id":    record.OwnerID,
		"record_type": record.RecordType,
	})
}

// NewAccessGrantedEvent builds the AccessGranted notification. expires_at is unix
// seconds with 0 meaning never.
func NewAccessGrantedEvent(grant AccessGrant) Event {
	return newEvent(EventAccessGranted, grant.GrantedAt, map[string]interface{}{
		"patient_id": grant.PatientID,
		"doctor_id":  grant.DoctorID,
		"expires_at": UnixOrZero(grant.ExpiresAt),
	})
}

// NewAccessRevokedEvent builds the AccessRevoked notification
func NewAccessRevokedEvent(patientID, doctorID string, at time.Time) Event {
	return newEvent(EventAccessRevoked, at, map[string]interface{}{
		"patient_id": patientID,
		"doctor_id":  doctorID,
	})
}

// NewEmergencyModeToggledEvent builds the EmergencyModeToggled notification
func NewEmergencyModeToggledEvent(active bool, at time.Time) Event {
	return newEvent(EventEmergencyModeToggled, at, map[string]interface{}{
		"active": active,
	})
}

// UnixOrZero renders t as unix seconds, mapping the zero time to 0
func UnixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
