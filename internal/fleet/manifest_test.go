package fleet

import (
	"os"
	"path/filepath"
	"testing"

	"cloudherd/internal/config"
	"cloudherd/internal/provider"
	"cloudherd/internal/reconcile"
)

var testDefaults = config.DefaultsConfig{
	User:         "ubuntu",
	ImageID:      "ami-default",
	InstanceType: "t3.micro",
	KeyName:      "deploy",
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}

func TestLoadManifestAppliesDefaults(t *testing.T) {
	path := writeManifest(t, `
instances:
  - name: web1
    desired_state: running
  - name: db1
    image_id: ami-custom
    user: admin
    desired_state: stopped
`)

	m, err := LoadManifest(path, testDefaults)
	if err != nil {
		t.Fatalf("LoadManifest() returned error: %v", err)
	}
	if len(m.Specs) != 2 {
		t.Fatalf("specs = %d, want 2", len(m.Specs))
	}

	web := m.Specs[0]
	if web.ImageID != "ami-default" || web.User != "ubuntu" || web.InstanceType != "t3.micro" {
		t.Errorf("defaults not applied: %+v", web.InstanceSpec)
	}
	if web.Desired != reconcile.PowerRunning {
		t.Errorf("desired = %s, want running", web.Desired)
	}

	db := m.Specs[1]
	if db.ImageID != "ami-custom" || db.User != "admin" {
		t.Errorf("entry overrides lost: %+v", db.InstanceSpec)
	}
}

func TestLoadManifestRejectsDuplicateNames(t *testing.T) {
	path := writeManifest(t, `
instances:
  - name: web1
    desired_state: running
  - name: web1
    desired_state: stopped
`)

	if _, err := LoadManifest(path, testDefaults); err == nil {
		t.Error("expected error for duplicate instance names, got none")
	}
}

func TestLoadManifestRejectsUnknownDesiredState(t *testing.T) {
	path := writeManifest(t, `
instances:
  - name: web1
    desired_state: hibernated
`)

	if _, err := LoadManifest(path, testDefaults); err == nil {
		t.Error("expected error for unknown desired_state, got none")
	}
}

func TestLoadManifestRequiresImageForRunning(t *testing.T) {
	path := writeManifest(t, `
instances:
  - name: web1
    desired_state: running
`)

	if _, err := LoadManifest(path, config.DefaultsConfig{User: "ubuntu"}); err == nil {
		t.Error("expected error when no image is available, got none")
	}
}

func TestManifestDefaultsDesiredStateToRunning(t *testing.T) {
	path := writeManifest(t, `
instances:
  - name: web1
`)

	m, err := LoadManifest(path, testDefaults)
	if err != nil {
		t.Fatalf("LoadManifest() returned error: %v", err)
	}
	if m.Specs[0].Desired != reconcile.PowerRunning {
		t.Errorf("desired = %s, want running", m.Specs[0].Desired)
	}
}

func TestDedupeRules(t *testing.T) {
	ssh := provider.SecurityRule{Protocol: "tcp", FromPort: 22, ToPort: 22, SourceCIDR: "0.0.0.0/0"}
	http := provider.SecurityRule{Protocol: "tcp", FromPort: 80, ToPort: 80, SourceCIDR: "0.0.0.0/0"}

	got := dedupeRules([]provider.SecurityRule{ssh, http, ssh, http, ssh})
	if len(got) != 2 {
		t.Fatalf("dedupeRules() kept %d rules, want 2", len(got))
	}
	if got[0] != ssh || got[1] != http {
		t.Errorf("dedupeRules() reordered rules: %+v", got)
	}
}

func TestManifestBoundaryNameDefaultsToDerived(t *testing.T) {
	path := writeManifest(t, `
instances:
  - name: web1
    desired_state: running
  - name: web2
    desired_state: running
    security_group: shared-sg
`)

	m, err := LoadManifest(path, testDefaults)
	if err != nil {
		t.Fatalf("LoadManifest() returned error: %v", err)
	}
	if got := m.Specs[0].DerivedBoundaryName(); got != "web1-sg" {
		t.Errorf("derived boundary = %q, want web1-sg", got)
	}
	if got := m.Specs[1].DerivedBoundaryName(); got != "shared-sg" {
		t.Errorf("derived boundary = %q, want shared-sg", got)
	}
}
