package plugin

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	xerrors "IntelHive/internal/errors"
	"IntelHive/internal/identity"
	"IntelHive/pkg/logger"
)

var pluginNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Registry holds the live plugin catalogue and answers runnability checks.
type Registry struct {
	mu               sync.RWMutex
	definitions      map[string]*Definition
	handlers         *HandlerRegistry
	resolver         *Resolver
	directory        identity.Directory
	validQueues      map[string]struct{}
	defaultQueue     string
	defaultSoftLimit int
	log              *slog.Logger
}

// NewRegistry constructs an empty registry. validQueues, defaultQueue and
// defaultSoftLimit come from the dispatch configuration.
func NewRegistry(handlers *HandlerRegistry, resolver *Resolver, directory identity.Directory, validQueues []string, defaultQueue string, defaultSoftLimit int) *Registry {
	queues := make(map[string]struct{}, len(validQueues))
	for _, q := range validQueues {
		queues[q] = struct{}{}
	}
	if defaultSoftLimit <= 0 {
		defaultSoftLimit = 60
	}
	return &Registry{
		definitions:      make(map[string]*Definition),
		handlers:         handlers,
		resolver:         resolver,
		directory:        directory,
		validQueues:      queues,
		defaultQueue:     defaultQueue,
		defaultSoftLimit: defaultSoftLimit,
		log:              logger.Named("registry"),
	}
}

// Register validates and stores one definition. A plugin whose entry point
// cannot be resolved is rejected; a plugin whose queue is unknown is kept,
// with a warning, on the default queue. The asymmetry is deliberate.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "definition cannot be nil")
	}
	if !pluginNamePattern.MatchString(def.Name) {
		return xerrors.New(CodePluginValidation, fmt.Sprintf("plugin name %q is not valid", def.Name))
	}
	if !IsValidKind(def.Kind) {
		return xerrors.New(CodePluginValidation, fmt.Sprintf("plugin %s has unknown kind %q", def.Name, def.Kind))
	}
	if !r.handlers.Has(def.EntryPoint) {
		return xerrors.Wrap(CodeEntryPointNotFound, ErrEntryPointNotFound,
			fmt.Sprintf("plugin %s references unknown entry point %q", def.Name, def.EntryPoint))
	}

	stored := def.clone()
	if _, ok := r.validQueues[stored.Queue]; !ok {
		r.log.Warn("plugin has a wrong queue, using default",
			slog.String("plugin", stored.Name),
			slog.String("queue", stored.Queue),
			slog.String("default", r.defaultQueue))
		stored.Queue = r.defaultQueue
	}
	if stored.SoftTimeLimit <= 0 {
		stored.SoftTimeLimit = r.defaultSoftLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[stored.Name] = stored
	return nil
}

// ApplyManifest registers every plugin from the manifest and seeds declared
// default values into the parameter store. A plugin that fails validation
// is skipped; the rest of the manifest is unaffected.
func (r *Registry) ApplyManifest(ctx context.Context, manifest *Manifest, store ParameterStore) error {
	if manifest == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "manifest cannot be nil")
	}
	var rejected []error
	for _, entry := range manifest.Plugins {
		def, err := entry.Definition()
		if err != nil {
			r.log.Error("rejecting manifest entry", slog.String("plugin", entry.Name), slog.Any("error", err))
			rejected = append(rejected, err)
			continue
		}
		if err := r.Register(def); err != nil {
			r.log.Error("rejecting plugin registration", slog.String("plugin", def.Name), slog.Any("error", err))
			rejected = append(rejected, err)
			continue
		}
		for _, param := range entry.Parameters {
			if param.Default == nil {
				continue
			}
			value := ParameterValue{
				Plugin:    entry.Name,
				Parameter: param.Name,
				Scope:     DefaultScope,
				Value:     param.Default,
			}
			if err := store.Upsert(ctx, value); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err,
					fmt.Sprintf("seeding default for %s.%s", entry.Name, param.Name))
			}
		}
	}
	if len(rejected) > 0 {
		r.log.Warn("manifest applied with rejected plugins", slog.Int("rejected", len(rejected)))
	}
	return nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("plugin %s is not registered", name))
	}
	return def.clone(), nil
}

// All returns every registered definition, sorted by name.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		out = append(out, def.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsRunnable reports whether the named plugin can run for the given user:
// not disabled, not disabled for the user's organization, and every
// required parameter has a resolvable value. A resolution miss on a
// required parameter makes the plugin not runnable, it is not an error.
func (r *Registry) IsRunnable(ctx context.Context, name string, userID int64) (bool, error) {
	def, err := r.Get(name)
	if err != nil {
		return false, err
	}
	return r.isRunnable(ctx, def, userID)
}

func (r *Registry) isRunnable(ctx context.Context, def *Definition, userID int64) (bool, error) {
	if def.Disabled {
		return false, nil
	}
	if userID != 0 && len(def.DisabledForOrgs) > 0 {
		membership, err := r.directory.Membership(ctx, userID)
		if err != nil && !stdErrors.Is(err, identity.ErrNoMembership) {
			return false, err
		}
		if membership != nil && def.DisabledForOrganization(membership.Organization.ID) {
			return false, nil
		}
	}
	for _, param := range def.RequiredParameters() {
		if !r.resolver.Resolvable(ctx, param, userID) {
			return false, nil
		}
	}
	return true, nil
}

// Runnable returns every plugin of the given kind that is runnable for the
// user, sorted by name.
func (r *Registry) Runnable(ctx context.Context, kind Kind, userID int64) ([]*Definition, error) {
	var out []*Definition
	for _, def := range r.All() {
		if def.Kind != kind {
			continue
		}
		ok, err := r.isRunnable(ctx, def, userID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, def)
		}
	}
	return out, nil
}
