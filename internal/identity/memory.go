package identity

import (
	"context"
	"sync"
)

// MemoryDirectory provides an in-memory implementation of Directory,
// intended for development and testing scenarios.
type MemoryDirectory struct {
	mu          sync.RWMutex
	users       map[int64]*User
	orgs        map[int64]*Organization
	memberships map[int64]int64
	nextUserID  int64
	nextOrgID   int64
}

// NewMemoryDirectory initialises an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:       make(map[int64]*User),
		orgs:        make(map[int64]*Organization),
		memberships: make(map[int64]int64),
		nextUserID:  1,
		nextOrgID:   1,
	}
}

// AddUser registers a user and returns the assigned ID.
func (d *MemoryDirectory) AddUser(username string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextUserID
	d.nextUserID++
	d.users[id] = &User{ID: id, Username: NormalizeUsername(username)}
	return id
}

// AddOrganization registers an organization owned by the given user.
func (d *MemoryDirectory) AddOrganization(name string, owner int64) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextOrgID
	d.nextOrgID++
	d.orgs[id] = &Organization{ID: id, Name: name, Owner: owner}
	d.memberships[owner] = id
	return id
}

// Join adds a user to an organization. A user belongs to at most one
// organization; joining again replaces the previous membership.
func (d *MemoryDirectory) Join(userID, orgID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memberships[userID] = orgID
}

// Membership implements the Directory interface.
func (d *MemoryDirectory) Membership(_ context.Context, userID int64) (*Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	orgID, ok := d.memberships[userID]
	if !ok {
		return nil, ErrNoMembership
	}
	org, ok := d.orgs[orgID]
	if !ok {
		return nil, ErrNoMembership
	}
	return &Membership{Organization: *org, UserID: userID}, nil
}

var _ Directory = (*MemoryDirectory)(nil)
