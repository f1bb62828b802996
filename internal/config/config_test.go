package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_MENTORA_MODEL", "gpt-4o")
	path := writeConfig(t, `{
		"tutoring": {
			"backbone_model": "${TEST_MENTORA_MODEL}",
			"variant": "${TEST_MENTORA_VARIANT:no_memory}"
		},
		"data": {"dataset": "assist2017"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tutoring.BackboneModel != "gpt-4o" {
		t.Errorf("env var not substituted: %q", cfg.Tutoring.BackboneModel)
	}
	if cfg.Tutoring.Variant != "no_memory" {
		t.Errorf("default not applied for unset var: %q", cfg.Tutoring.Variant)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("TEST_MENTORA_DATASET", "junyi")
	path := writeConfig(t, `{"data": {"dataset": "${TEST_MENTORA_DATASET:assist2017}"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Data.Dataset != "junyi" {
		t.Errorf("env value should win over default: %q", cfg.Data.Dataset)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"data": {"dataset": "assist2017"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tutoring.NumRounds != 10 {
		t.Errorf("num_rounds default = %d, want 10", cfg.Tutoring.NumRounds)
	}
	if *cfg.Tutoring.Lambda != 0.7 {
		t.Errorf("lambda default = %f, want 0.7", *cfg.Tutoring.Lambda)
	}
	if cfg.Tutoring.Estimator != "historical_accuracy" {
		t.Errorf("estimator default = %q", cfg.Tutoring.Estimator)
	}
	if cfg.Evaluation.SelectionPolicy != "average" {
		t.Errorf("selection policy default = %q", cfg.Evaluation.SelectionPolicy)
	}
	if cfg.Tutoring.Workers != 4 {
		t.Errorf("workers default = %d, want 4", cfg.Tutoring.Workers)
	}
}

func TestLoadPreservesExplicitZeroLambda(t *testing.T) {
	path := writeConfig(t, `{"tutoring": {"lambda": 0}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tutoring.Lambda == nil || *cfg.Tutoring.Lambda != 0 {
		t.Errorf("explicit lambda=0 must survive defaulting, got %v", cfg.Tutoring.Lambda)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
