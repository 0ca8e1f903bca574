package identity

import (
	"context"
	"errors"
	"strings"
)

// Common errors returned by the identity directory.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrNoMembership = errors.New("user has no organization membership")
)

// User is the account on whose behalf a job runs. Jobs submitted through
// anonymous-allowed flows carry a zero ID.
type User struct {
	ID       int64
	Username string
}

// Organization groups users for configuration sharing. Owner is the account
// that holds organization-scoped parameter values.
type Organization struct {
	ID    int64
	Name  string
	Owner int64
}

// Membership links a user to the single organization they belong to.
type Membership struct {
	Organization Organization
	UserID       int64
}

// Directory resolves organization membership for users. Implementations
// must be safe for concurrent use.
type Directory interface {
	// Membership returns the membership of the user, or ErrNoMembership
	// when the user does not belong to any organization.
	Membership(ctx context.Context, userID int64) (*Membership, error)
}

// NormalizeUsername lowercases and trims an account name for lookups.
func NormalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
