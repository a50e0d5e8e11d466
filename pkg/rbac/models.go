package rbac

import (
	"time"

	"github.com/medrex/medchain/pkg/types"
)

// Subject is a caller as seen by the predicate layer
type Subject struct {
	User    types.User
	IsAdmin bool
}

// NewSubject builds the subject for a user snapshot and the fixed admin identity
func NewSubject(user types.User, adminID string) Subject {
	return Subject{
		User:    user,
		IsAdmin: adminID != "" && user.ID == adminID,
	}
}

// Can reports whether the subject holds the capability
func (s Subject) Can(capability Capability) bool {
	if !s.User.Registered {
		return false
	}
	for _, c := range RoleCapabilities[s.User.Role] {
		if c == capability {
			return true
		}
	}
	return false
}

// AccessRequest carries everything the record-read predicate looks at.
// Grant is nil when the owner never granted anything to the actor.
type AccessRequest struct {
	Actor           Subject
	Record          types.MedicalRecord
	Grant           *types.AccessGrant
	EmergencyActive bool
	Now             time.Time
}

// AccessDecision represents the result of an access control decision
type AccessDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// Decide evaluates: owner, then a valid grant from the owner, then emergency
// mode for doctors, then the administrator.
func Decide(req AccessRequest) AccessDecision {
	switch {
	case req.Actor.User.ID == req.Record.OwnerID:
		return AccessDecision{Allowed: true, Reason: ReasonOwner}
	case req.Grant != nil && req.Grant.ValidAt(req.Now):
		return AccessDecision{Allowed: true, Reason: ReasonGrant}
	case req.EmergencyActive && req.Actor.Can(CapabilityEmergencyRead):
		return AccessDecision{Allowed: true, Reason: ReasonEmergency}
	case req.Actor.IsAdmin:
		return AccessDecision{Allowed: true, Reason: ReasonAdmin}
	default:
		return AccessDecision{Allowed: false, Reason: ReasonDenied}
	}
}
