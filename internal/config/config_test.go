package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentfs/broker/internal/config"
)

func TestLoad_DefaultsToWorkDirWhenNoFileOrEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Roots) != 1 || cfg.Roots[0] != dir {
		t.Fatalf("Roots=%v, want [%q]", cfg.Roots, dir)
	}
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	projectRoot := filepath.Join(dir, "proj")

	yamlBody := "roots:\n  - " + projectRoot + "\nmax_file_size_bytes: 2048\n"
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg, err := config.Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Roots) != 1 || cfg.Roots[0] != projectRoot {
		t.Fatalf("Roots=%v, want [%q]", cfg.Roots, projectRoot)
	}

	if cfg.MaxFileSizeBytes != 2048 {
		t.Fatalf("MaxFileSizeBytes=%d, want 2048", cfg.MaxFileSizeBytes)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()

	yamlBody := "roots:\n  - /from/file\n"
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	envRoots := "/env/a" + string(os.PathListSeparator) + "/env/b"
	t.Setenv(config.RootsEnvVar, envRoots)

	cfg, err := config.Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Roots) != 2 || cfg.Roots[0] != "/env/a" || cfg.Roots[1] != "/env/b" {
		t.Fatalf("Roots=%v, want [/env/a /env/b]", cfg.Roots)
	}
}

func TestLoad_LocalOverrideWinsOverFileButNotEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	yamlBody := "roots:\n  - /from/file\nmax_file_size_bytes: 1024\n"
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("setup yaml: %v", err)
	}

	jsonc := "{\n  // developer override, not checked in\n  \"roots\": [\"/from/local\"],\n}\n"
	if err := os.WriteFile(filepath.Join(dir, config.LocalOverrideFileName), []byte(jsonc), 0o644); err != nil {
		t.Fatalf("setup jsonc: %v", err)
	}

	cfg, err := config.Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Roots) != 1 || cfg.Roots[0] != "/from/local" {
		t.Fatalf("Roots=%v, want [/from/local] (local override should win over file)", cfg.Roots)
	}

	if cfg.MaxFileSizeBytes != 1024 {
		t.Fatalf("MaxFileSizeBytes=%d, want 1024 (local override left it unset, file value should survive)", cfg.MaxFileSizeBytes)
	}
}

func TestResolveLegacyCharset_DefaultsToWindows1251(t *testing.T) {
	t.Parallel()

	cfg := config.BrokerConfig{}
	if cfg.ResolveLegacyCharset() == nil {
		t.Fatalf("ResolveLegacyCharset returned nil")
	}
}

func TestSandboxSizeLimit_DefaultsWhenUnset(t *testing.T) {
	t.Parallel()

	cfg := config.BrokerConfig{}
	if cfg.SandboxSizeLimit() <= 0 {
		t.Fatalf("SandboxSizeLimit=%d, want positive default", cfg.SandboxSizeLimit())
	}
}
