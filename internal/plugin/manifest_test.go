package plugin

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
plugins:
  - name: dns_resolver
    kind: analyzer
    description: Resolves domains.
    entrypoint: test.dns
    queue: long
    soft_time_limit: 120
    parameters:
      - name: timeout_seconds
        type: int
        default: 5
      - name: api_key
        type: str
        required: true
        is_secret: true
  - name: hunter
    kind: pivot
    entrypoint: test.pivot
    disabled_for_orgs: [7]
`

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("writing manifest failed: %v", err)
	}

	manifest, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if len(manifest.Plugins) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(manifest.Plugins))
	}

	def, err := manifest.Plugins[0].Definition()
	if err != nil {
		t.Fatalf("Definition failed: %v", err)
	}
	if def.Name != "dns_resolver" || def.Kind != KindAnalyzer || def.Queue != "long" {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if def.SoftTimeLimit != 120 {
		t.Fatalf("unexpected soft time limit: %d", def.SoftTimeLimit)
	}
	if len(def.RequiredParameters()) != 1 || def.RequiredParameters()[0].Name != "api_key" {
		t.Fatalf("unexpected required parameters: %+v", def.RequiredParameters())
	}
	if len(def.SecretParameters()) != 1 || len(def.VisibleParameters()) != 1 {
		t.Fatalf("unexpected parameter partitions: %+v", def.Parameters)
	}
	// Parameters inherit the owning plugin's name.
	for _, param := range def.Parameters {
		if param.Plugin != "dns_resolver" {
			t.Fatalf("parameter %s lost its plugin binding: %+v", param.Name, param)
		}
	}

	pivot, err := manifest.Plugins[1].Definition()
	if err != nil {
		t.Fatalf("Definition failed: %v", err)
	}
	if !pivot.DisabledForOrganization(7) {
		t.Fatal("expected organization 7 to be disabled")
	}
	if pivot.DisabledForOrganization(8) {
		t.Fatal("organization 8 must not be disabled")
	}
}

func TestDefinitionRejectsDuplicatesAndUnknownTypes(t *testing.T) {
	dup := ManifestEntry{
		Name:       "scanner",
		Kind:       KindAnalyzer,
		EntryPoint: "test.ok",
		Parameters: []ManifestParameter{
			{Name: "depth", Type: TypeInt},
			{Name: "depth", Type: TypeInt},
		},
	}
	if _, err := dup.Definition(); err == nil {
		t.Fatal("expected rejection for duplicate parameter names")
	}

	badType := ManifestEntry{
		Name:       "scanner",
		Kind:       KindAnalyzer,
		EntryPoint: "test.ok",
		Parameters: []ManifestParameter{
			{Name: "depth", Type: ParamType("decimal")},
		},
	}
	if _, err := badType.Definition(); err == nil {
		t.Fatal("expected rejection for an unknown parameter type")
	}

	badKind := ManifestEntry{Name: "scanner", Kind: Kind("oracle"), EntryPoint: "test.ok"}
	if _, err := badKind.Definition(); err == nil {
		t.Fatal("expected rejection for an unknown kind")
	}
}
