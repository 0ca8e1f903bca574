package plugin

import (
	"context"
	"sync"
	"time"

	xerrors "IntelHive/internal/errors"
)

// ParameterStore persists candidate parameter values per scope. The store
// gives no ordering guarantee among candidates; precedence is decided by
// the Resolver.
type ParameterStore interface {
	// Candidates returns every stored value for the given parameter,
	// across all scopes.
	Candidates(ctx context.Context, pluginName, paramName string) ([]ParameterValue, error)
	// Upsert creates or replaces the single row for the value's scope.
	Upsert(ctx context.Context, value ParameterValue) error
	// Delete removes the row for the given scope, if present.
	Delete(ctx context.Context, pluginName, paramName string, scope ValueScope) error
	Close() error
}

type scopeKey struct {
	ownerID int64
	forOrg  bool
}

type paramKey struct {
	plugin string
	param  string
}

// MemoryParameterStore keeps parameter values in process memory, intended
// for development and testing scenarios.
type MemoryParameterStore struct {
	mu     sync.RWMutex
	values map[paramKey]map[scopeKey]ParameterValue
}

// NewMemoryParameterStore creates an empty MemoryParameterStore.
func NewMemoryParameterStore() *MemoryParameterStore {
	return &MemoryParameterStore{values: make(map[paramKey]map[scopeKey]ParameterValue)}
}

// Candidates implements the ParameterStore interface.
func (m *MemoryParameterStore) Candidates(_ context.Context, pluginName, paramName string) ([]ParameterValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.values[paramKey{plugin: pluginName, param: paramName}]
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]ParameterValue, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	return out, nil
}

// Upsert implements the ParameterStore interface. The latest row per scope
// wins; values are superseded, not versioned.
func (m *MemoryParameterStore) Upsert(_ context.Context, value ParameterValue) error {
	if value.Plugin == "" || value.Parameter == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "parameter value needs plugin and parameter names")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := paramKey{plugin: value.Plugin, param: value.Parameter}
	rows, ok := m.values[key]
	if !ok {
		rows = make(map[scopeKey]ParameterValue)
		m.values[key] = rows
	}
	value.UpdatedAt = time.Now().Unix()
	rows[scopeKey{ownerID: value.Scope.OwnerID, forOrg: value.Scope.ForOrganization}] = value
	return nil
}

// Delete implements the ParameterStore interface.
func (m *MemoryParameterStore) Delete(_ context.Context, pluginName, paramName string, scope ValueScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := paramKey{plugin: pluginName, param: paramName}
	if rows, ok := m.values[key]; ok {
		delete(rows, scopeKey{ownerID: scope.OwnerID, forOrg: scope.ForOrganization})
	}
	return nil
}

// Close implements the ParameterStore interface.
func (m *MemoryParameterStore) Close() error { return nil }

var _ ParameterStore = (*MemoryParameterStore)(nil)
