package plugin

import (
	"context"
	"errors"
	"testing"

	"IntelHive/internal/identity"
)

func newTestRegistry(t *testing.T) (*Registry, ParameterStore, *identity.MemoryDirectory) {
	t.Helper()
	store := NewMemoryParameterStore()
	directory := identity.NewMemoryDirectory()
	handlers := NewHandlerRegistry()
	noop := RunnableFunc(func(context.Context, Invocation) (Report, error) {
		return Report{}, nil
	})
	if err := handlers.Register("test.noop", noop); err != nil {
		t.Fatalf("registering handler failed: %v", err)
	}
	resolver := NewResolver(store, directory)
	registry := NewRegistry(handlers, resolver, directory, []string{"default", "long"}, "default", 60)
	return registry, store, directory
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	bad := []*Definition{
		{Name: "has space", Kind: KindAnalyzer, EntryPoint: "test.noop"},
		{Name: "ok_name", Kind: Kind("scanner"), EntryPoint: "test.noop"},
	}
	for _, def := range bad {
		if err := registry.Register(def); err == nil {
			t.Fatalf("expected rejection for %+v", def)
		}
	}

	// A missing entry point is a hard rejection, not a fallback.
	err := registry.Register(&Definition{Name: "ghost", Kind: KindAnalyzer, EntryPoint: "test.missing"})
	if !errors.Is(err, ErrEntryPointNotFound) {
		t.Fatalf("expected ErrEntryPointNotFound, got %v", err)
	}
	if _, err := registry.Get("ghost"); err == nil {
		t.Fatal("rejected plugin must not be registered")
	}
}

func TestRegisterFallsBackToDefaultQueue(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	// An unknown queue is corrected to the default, unlike a broken entry
	// point which rejects the plugin.
	err := registry.Register(&Definition{
		Name:       "classifier",
		Kind:       KindAnalyzer,
		EntryPoint: "test.noop",
		Queue:      "no_such_queue",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	def, err := registry.Get("classifier")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if def.Queue != "default" {
		t.Fatalf("expected default queue, got %q", def.Queue)
	}
	if def.SoftTimeLimit != 60 {
		t.Fatalf("expected the default soft time limit, got %d", def.SoftTimeLimit)
	}
}

func TestIsRunnable(t *testing.T) {
	ctx := context.Background()
	registry, store, directory := newTestRegistry(t)

	owner := directory.AddUser("owner")
	member := directory.AddUser("member")
	orgID := directory.AddOrganization("soc", owner)
	directory.Join(member, orgID)
	outsider := directory.AddUser("outsider")

	def := &Definition{
		Name:       "scanner",
		Kind:       KindAnalyzer,
		EntryPoint: "test.noop",
		Queue:      "default",
		Parameters: []Parameter{
			{Name: "api_key", Type: TypeString, Plugin: "scanner", Required: true},
		},
	}
	if err := registry.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Required parameter has no value yet.
	runnable, err := registry.IsRunnable(ctx, "scanner", member)
	if err != nil {
		t.Fatalf("IsRunnable failed: %v", err)
	}
	if runnable {
		t.Fatal("plugin must not be runnable without its required parameter")
	}

	seedValue(t, store, "scanner", "api_key", DefaultScope, "key")
	runnable, err = registry.IsRunnable(ctx, "scanner", member)
	if err != nil {
		t.Fatalf("IsRunnable failed: %v", err)
	}
	if !runnable {
		t.Fatal("plugin must be runnable once the parameter resolves")
	}

	// Disabled beats everything.
	disabled := def.clone()
	disabled.Name = "disabled_scanner"
	disabled.Disabled = true
	if err := registry.Register(disabled); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	seedValue(t, store, "disabled_scanner", "api_key", DefaultScope, "key")
	runnable, err = registry.IsRunnable(ctx, "disabled_scanner", member)
	if err != nil || runnable {
		t.Fatalf("disabled plugin must not be runnable (runnable=%v err=%v)", runnable, err)
	}

	// Organization-level disable only affects members of that organization.
	orgDisabled := &Definition{
		Name:            "org_scanner",
		Kind:            KindAnalyzer,
		EntryPoint:      "test.noop",
		Queue:           "default",
		DisabledForOrgs: map[int64]struct{}{orgID: {}},
	}
	if err := registry.Register(orgDisabled); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	runnable, err = registry.IsRunnable(ctx, "org_scanner", member)
	if err != nil || runnable {
		t.Fatalf("org member must not run an org-disabled plugin (runnable=%v err=%v)", runnable, err)
	}
	runnable, err = registry.IsRunnable(ctx, "org_scanner", outsider)
	if err != nil || !runnable {
		t.Fatalf("outsider must still run the plugin (runnable=%v err=%v)", runnable, err)
	}
}

func TestRunnableFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	registry, _, directory := newTestRegistry(t)
	user := directory.AddUser("analyst")

	for _, name := range []string{"zeta", "alpha", "mid"} {
		err := registry.Register(&Definition{
			Name:       name,
			Kind:       KindAnalyzer,
			EntryPoint: "test.noop",
			Queue:      "default",
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	if err := registry.Register(&Definition{
		Name:       "forwarder",
		Kind:       KindConnector,
		EntryPoint: "test.noop",
		Queue:      "default",
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	defs, err := registry.Runnable(ctx, KindAnalyzer, user)
	if err != nil {
		t.Fatalf("Runnable failed: %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("expected 3 analyzers, got %d", len(defs))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if defs[i].Name != want {
			t.Fatalf("expected %s at position %d, got %s", want, i, defs[i].Name)
		}
	}
}

func TestApplyManifestSkipsRejectedEntries(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestRegistry(t)

	manifest := &Manifest{Plugins: []ManifestEntry{
		{
			Name:       "good_plugin",
			Kind:       KindAnalyzer,
			EntryPoint: "test.noop",
			Queue:      "default",
			Parameters: []ManifestParameter{
				{Name: "depth", Type: TypeInt, Default: 3},
			},
		},
		{
			// Unknown entry point: rejected without affecting the rest.
			Name:       "broken_plugin",
			Kind:       KindAnalyzer,
			EntryPoint: "test.missing",
		},
		{
			// Unknown kind: rejected at conversion time.
			Name:       "weird_plugin",
			Kind:       Kind("oracle"),
			EntryPoint: "test.noop",
		},
	}}

	if err := registry.ApplyManifest(ctx, manifest, store); err != nil {
		t.Fatalf("ApplyManifest failed: %v", err)
	}
	if _, err := registry.Get("good_plugin"); err != nil {
		t.Fatalf("good_plugin must be registered: %v", err)
	}
	if _, err := registry.Get("broken_plugin"); err == nil {
		t.Fatal("broken_plugin must be rejected")
	}
	if _, err := registry.Get("weird_plugin"); err == nil {
		t.Fatal("weird_plugin must be rejected")
	}

	// Declared defaults are seeded as system-default values.
	candidates, err := store.Candidates(ctx, "good_plugin", "depth")
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(candidates) != 1 || !candidates[0].Scope.IsDefault() || candidates[0].Value != 3 {
		t.Fatalf("expected a seeded system default, got %+v", candidates)
	}
}
