package rbac

import "github.com/medrex/medchain/pkg/types"

// Require returns nil when the subject holds the capability, otherwise the error
// kind the ledger reports for that capability.
func Require(subject Subject, capability Capability) error {
	if subject.Can(capability) {
		return nil
	}
	return denialFor(subject, capability)
}

// RequireAdmin gates the operations reserved for the fixed administrator
func RequireAdmin(subject Subject) error {
	if subject.IsAdmin {
		return nil
	}
	return types.ErrAdminOnly
}

func denialFor(subject Subject, capability Capability) error {
	switch capability {
	case CapabilityCreateRecord:
		if !subject.User.Registered {
			return types.ErrNotRegistered
		}
		return types.ErrWrongRole
	case CapabilityToggleEmergency:
		return types.ErrAdminOnly
	case CapabilityEmergencyRead:
		return types.ErrUnauthorized
	default:
		return types.ErrWrongRole
	}
}
