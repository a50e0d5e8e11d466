package ledger

import (
	"context"
	"strings"

	"github.com/medrex/medchain/pkg/repository"
	"github.com/medrex/medchain/pkg/types"
)

const adminDisplayName = "System Administrator"

// Bootstrap fixes the administrator identity. Repeating it with the same id is
// a no-op; naming a different administrator fails.
func (s *Service) Bootstrap(ctx context.Context, adminID string) error {
	if strings.TrimSpace(adminID) == "" {
		return types.NewValidationError(types.ErrCodeInvalidInput, "admin id must not be empty", nil)
	}

	return s.update(ctx, "bootstrap", adminID, func(tx repository.LedgerTx) ([]types.Event, error) {
		current, err := tx.GetAdminID(ctx)
		if err != nil {
			return nil, err
		}
		if current == adminID {
			return nil, nil
		}
		if current != "" {
			return nil, types.ErrAdminAlreadySet
		}
		existing, err := tx.GetUser(ctx, adminID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, types.ErrAlreadyRegistered
		}

		admin := &types.User{
			ID:           adminID,
			Name:         adminDisplayName,
			Role:         types.RoleAdmin,
			Registered:   true,
			RegisteredAt: s.clock.Now(),
		}
		if err := tx.SetAdminID(ctx, adminID); err != nil {
			return nil, err
		}
		if err := tx.PutUser(ctx, admin); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// RegisterUser registers the caller with a self-chosen role. Registration is
// not audited.
func (s *Service) RegisterUser(ctx context.Context, callerID, name string, role types.Role) error {
	return s.update(ctx, "registerUser", callerID, func(tx repository.LedgerTx) ([]types.Event, error) {
		existing, err := tx.GetUser(ctx, callerID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, types.ErrAlreadyRegistered
		}
		if !role.Registrable() {
			return nil, types.ErrInvalidRole
		}
		if name == "" {
			return nil, types.ErrEmptyName
		}

		user := types.User{
			ID:           callerID,
			Name:         name,
			Role:         role,
			Registered:   true,
			RegisteredAt: s.clock.Now(),
		}
		if err := tx.PutUser(ctx, &user); err != nil {
			return nil, err
		}
		return []types.Event{types.NewUserRegisteredEvent(user)}, nil
	})
}

// GetUserInfo returns the user snapshot, or the unregistered zero-value for an unknown id
func (s *Service) GetUserInfo(ctx context.Context, userID string) (types.User, error) {
	var user types.User
	err := s.view(ctx, "getUserInfo", userID, func(r repository.LedgerReader) error {
		var err error
		user, err = loadUser(ctx, r, userID)
		return err
	})
	return user, err
}
