package types

import "time"

// AccessGrant is the single grant a patient holds for a doctor. A newer grant for the
// same pair replaces this one entirely. A zero ExpiresAt means the grant never expires.
type AccessGrant struct {
	PatientID string    `json:"patient_id" db:"patient_id"`
	DoctorID  string    `json:"doctor_id" db:"doctor_id"`
	GrantedAt time.Time `json:"granted_at" db:"granted_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Active    bool      `json:"active" db:"active"`
	Purpose   string    `json:"purpose" db:"purpose"`
}

// NeverExpires reports whether the grant carries the "never expires" sentinel
func (g AccessGrant) NeverExpires() bool {
	return g.ExpiresAt.IsZero()
}

// ValidAt reports whether the grant authorizes access at the given instant.
// Expiry is derived here and never written back.
func (g AccessGrant) ValidAt(now time.Time) bool {
	if !g.Active {
		return false
	}
	return g.NeverExpires() || g.ExpiresAt.After(now)
}

// StatusAt renders the grant as an AccessStatus evaluated at now
func (g AccessGrant) StatusAt(now time.Time) AccessStatus {
	return AccessStatus{
		Valid:     g.ValidAt(now),
		GrantedAt: g.GrantedAt,
		ExpiresAt: g.ExpiresAt,
		Purpose:   g.Purpose,
	}
}

// AccessStatus is the answer to checkAccess(patient, doctor)
type AccessStatus struct {
	Valid     bool      `json:"valid"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Purpose   string    `json:"purpose"`
}

// GrantAccessRequest represents grant creation data
type GrantAccessRequest struct {
	DoctorID        string `json:"doctor_id"`
	DurationSeconds int64  `json:"duration_seconds"`
	Purpose         string `json:"purpose"`
}

// AuditAction is the closed set of logged action kinds
type AuditAction string

const (
	ActionCreate       AuditAction = "CREATE"
	ActionView         AuditAction = "VIEW" // recognized, never written by any read path
	ActionGrantAccess  AuditAction = "GRANT_ACCESS"
	ActionRevokeAccess AuditAction = "REVOKE_ACCESS"
)

// AuditEntry represents one immutable entry of an actor's audit trail.
// RecordID is 0 when the action does not concern a record.
type AuditEntry struct {
	ActorID   string      `json:"actor_id" db:"actor_id"`
	RecordID  uint64      `json:"record_id" db:"record_id"`
	Timestamp time.Time   `json:"timestamp" db:"recorded_at"`
	Action    AuditAction `json:"action" db:"action"`
}

// AuditPage is a window over an actor's audit trail
type AuditPage struct {
	ActorID string       `json:"actor_id"`
	Entries []AuditEntry `json:"entries"`
	Total   int          `json:"total"`
	Offset  int          `json:"offset"`
	Limit   int          `json:"limit"`
}
