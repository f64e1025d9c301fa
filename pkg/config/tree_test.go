package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTreeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "lockbox.yaml")

	tree := map[string]any{
		"classname": "Interferometer",
		"auto_lock": true,
		"sequence": []any{
			map[string]any{"name": "coarse", "gain_factor": 0.5},
		},
	}
	if err := SaveTree(path, tree); err != nil {
		t.Fatalf("SaveTree() error = %v", err)
	}

	got, err := LoadTree(path)
	if err != nil {
		t.Fatalf("LoadTree() error = %v", err)
	}
	if got["classname"] != "Interferometer" {
		t.Errorf("classname = %v", got["classname"])
	}
	if got["auto_lock"] != true {
		t.Errorf("auto_lock = %v", got["auto_lock"])
	}
	seq, ok := got["sequence"].([]any)
	if !ok || len(seq) != 1 {
		t.Fatalf("sequence = %#v", got["sequence"])
	}
	st := seq[0].(map[string]any)
	if st["gain_factor"] != 0.5 {
		t.Errorf("gain_factor = %v", st["gain_factor"])
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the tree file, got %d entries", len(entries))
	}
}

func TestLoadTreeMissingOrEmpty(t *testing.T) {
	dir := t.TempDir()

	got, err := LoadTree(filepath.Join(dir, "missing.yaml"))
	if err != nil || got != nil {
		t.Fatalf("LoadTree(missing) = %v, %v; want nil, nil", got, err)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = LoadTree(empty)
	if err != nil || got != nil {
		t.Fatalf("LoadTree(empty) = %v, %v; want nil, nil", got, err)
	}

	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("classname: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTree(broken); err == nil {
		t.Fatalf("LoadTree(broken) should fail")
	}
}
