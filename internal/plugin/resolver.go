package plugin

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	xerrors "IntelHive/internal/errors"
	"IntelHive/internal/identity"
	"IntelHive/pkg/logger"
)

// Resolver applies the value precedence policy for plugin parameters.
// Precedence, first match wins: runtime override supplied with the job,
// user-scoped value, organization-scoped value, system default.
type Resolver struct {
	store     ParameterStore
	directory identity.Directory
	log       *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(store ParameterStore, directory identity.Directory) *Resolver {
	return &Resolver{store: store, directory: directory, log: logger.Named("resolver")}
}

// Resolve returns the effective value for a single parameter. The overrides
// map is the per-plugin runtime configuration supplied with the job; an
// override is used verbatim, with no store lookup.
func (r *Resolver) Resolve(ctx context.Context, param Parameter, userID int64, overrides map[string]any) (any, error) {
	if value, ok := overrides[param.Name]; ok {
		return value, nil
	}
	return r.resolveStored(ctx, param, userID)
}

// ReadParams resolves every declared parameter of the definition. A failed
// lookup on a required parameter aborts with ParameterNotConfigured; failed
// optional parameters are simply omitted from the result.
func (r *Resolver) ReadParams(ctx context.Context, def *Definition, userID int64, overrides map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(def.Parameters))
	for _, param := range def.Parameters {
		value, err := r.Resolve(ctx, param, userID, overrides)
		if err != nil {
			if stdErrors.Is(err, ErrParameterNotConfigured) && !param.Required {
				continue
			}
			return nil, err
		}
		result[param.Name] = value
	}
	return result, nil
}

// Resolvable reports whether the parameter has a stored value reachable by
// the user through any tier. Runtime overrides are deliberately not
// consulted: runnability is a property of the configuration, not of one
// job submission.
func (r *Resolver) Resolvable(ctx context.Context, param Parameter, userID int64) bool {
	_, err := r.resolveStored(ctx, param, userID)
	return err == nil
}

// resolveStored walks the store tiers. The candidate set is fetched once,
// so precedence is applied atomically relative to this parameter even when
// writes race with the lookup.
func (r *Resolver) resolveStored(ctx context.Context, param Parameter, userID int64) (any, error) {
	candidates, err := r.store.Candidates(ctx, param.Plugin, param.Name)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("loading candidates for parameter %s of %s", param.Name, param.Plugin))
	}

	if userID != 0 {
		if value, ok := pickScope(candidates, UserScope(userID)); ok {
			r.log.Debug("resolved from user scope",
				slog.String("plugin", param.Plugin), slog.String("parameter", param.Name))
			return value, nil
		}
		membership, err := r.directory.Membership(ctx, userID)
		if err != nil && !stdErrors.Is(err, identity.ErrNoMembership) {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "resolving organization membership")
		}
		if membership != nil {
			if value, ok := pickScope(candidates, OrganizationScope(membership.Organization.Owner)); ok {
				r.log.Debug("resolved from organization scope",
					slog.String("plugin", param.Plugin), slog.String("parameter", param.Name),
					slog.Int64("organization", membership.Organization.ID))
				return value, nil
			}
		}
	}

	if value, ok := pickScope(candidates, DefaultScope); ok {
		r.log.Debug("resolved from system default",
			slog.String("plugin", param.Plugin), slog.String("parameter", param.Name))
		return value, nil
	}

	return nil, xerrors.Wrap(CodeParameterNotConfigured, ErrParameterNotConfigured,
		fmt.Sprintf("no value for parameter %s of %s", param.Name, param.Plugin),
		xerrors.WithMetadata("plugin", param.Plugin),
		xerrors.WithMetadata("parameter", param.Name))
}

func pickScope(candidates []ParameterValue, scope ValueScope) (any, bool) {
	for _, candidate := range candidates {
		if candidate.Scope == scope {
			return candidate.Value, true
		}
	}
	return nil, false
}
