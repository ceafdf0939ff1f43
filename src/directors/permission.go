package directors

import "context"

// SystemUserID bypasses every permission check.
const SystemUserID = "system"

// UserProvider resolves the calling user for the current operation.
type UserProvider interface {
	CurrentUserID(ctx context.Context) string
}

// PermissionLookup resolves the capability set of a user.
type PermissionLookup interface {
	PermissionsByUserID(ctx context.Context, userID string) ([]string, error)
}

// StaticUserProvider always reports the same user. Embedding hosts that
// carry their own identity plumbing supply a real implementation.
type StaticUserProvider struct {
	UserID string
}

func (p StaticUserProvider) CurrentUserID(context.Context) string {
	if p.UserID == "" {
		return SystemUserID
	}
	return p.UserID
}

// StaticPermissionLookup serves permissions from a fixed map.
type StaticPermissionLookup map[string][]string

func (l StaticPermissionLookup) PermissionsByUserID(_ context.Context, userID string) ([]string, error) {
	return l[userID], nil
}
