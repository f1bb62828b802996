package runner

import (
	"os"
	"path/filepath"
	"testing"
)

func TestQuestionBankLoad(t *testing.T) {
	dir := t.TempDir()
	body := `[
		{"id": 1, "text": "What is 1/2 + 1/4?", "reference": "3/4"},
		{"id": 2, "text": "Simplify 4/8."}
	]`
	if err := os.WriteFile(filepath.Join(dir, "concept_42.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	bank := NewQuestionBank(dir)
	questions, err := bank.Load(42)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	if questions[0].Reference != "3/4" {
		t.Errorf("got reference %q", questions[0].Reference)
	}
}

func TestQuestionBankMissingConcept(t *testing.T) {
	bank := NewQuestionBank(t.TempDir())
	questions, err := bank.Load(7)
	if err != nil {
		t.Fatalf("missing file should not be an error, got %v", err)
	}
	if questions != nil {
		t.Errorf("got %v, want nil for untested concept", questions)
	}
}

func TestQuestionBankMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "concept_1.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewQuestionBank(dir).Load(1); err == nil {
		t.Fatal("expected parse error")
	}
}
