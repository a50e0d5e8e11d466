package rbac

import "github.com/medrex/medchain/pkg/types"

// Capability names an operation class that is gated by role
type Capability string

const (
	CapabilityCreateRecord          Capability = "create_record"
	CapabilityGrantAccess           Capability = "grant_access"
	CapabilityListAccessibleRecords Capability = "list_accessible_records"
	CapabilityEmergencyRead         Capability = "emergency_read"
	CapabilityToggleEmergency       Capability = "toggle_emergency"
)

// RoleCapabilities is the capability table. Roles never change after
// registration, so neither does a subject's capability set.
var RoleCapabilities = map[types.Role][]Capability{
	types.RolePatient: {CapabilityCreateRecord, CapabilityGrantAccess},
	types.RoleDoctor:  {CapabilityListAccessibleRecords, CapabilityEmergencyRead},
	types.RoleAdmin:   {CapabilityToggleEmergency},
}

// Reason explains a record-read decision
type Reason string

const (
	ReasonOwner     Reason = "owner"
	ReasonGrant     Reason = "grant"
	ReasonEmergency Reason = "emergency"
	ReasonAdmin     Reason = "admin"
	ReasonDenied    Reason = "denied"
)
