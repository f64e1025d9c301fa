package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderUnit(t *testing.T) {
	unit := RenderUnit("/usr/local/bin/lockbox", "/etc/lockbox.json", "/run/lockbox.sock")

	want := "ExecStart=/usr/local/bin/lockbox daemon --config /etc/lockbox.json --daemon-socket /run/lockbox.sock\n"
	if !strings.Contains(unit, want) {
		t.Fatalf("unit does not contain %q:\n%s", want, unit)
	}
	if strings.Contains(unit, "{{") {
		t.Fatalf("unit has unreplaced placeholders:\n%s", unit)
	}
}

func TestWriteAndRemoveUnit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "systemd", unitName)

	if err := writeUnit(path, "unit"); err != nil {
		t.Fatalf("writeUnit() error = %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "unit" {
		t.Fatalf("unexpected unit file %q, %v", b, err)
	}

	if err := removeUnit(path); err != nil {
		t.Fatalf("removeUnit() error = %v", err)
	}
	if err := removeUnit(path); err != nil {
		t.Fatalf("removing a missing unit should succeed, got %v", err)
	}
}
