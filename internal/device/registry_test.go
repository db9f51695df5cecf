package device_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hollowmark/avrbridge/internal/consoleio"
	"github.com/hollowmark/avrbridge/internal/device"
)

func TestRegistryLooksUpBuiltins(t *testing.T) {
	reg, err := device.NewRegistry(consoleio.NewLogger(false, false))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	for _, name := range []string{"attiny45", "atmega644p", "atmega16hva"} {
		d, ok := reg.Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q): not found", name)
		}

		if d.FlashSizeBytes == 0 {
			t.Fatalf("Lookup(%q): zero flash size", name)
		}

		if d.FlashPageBytes() == 0 {
			t.Fatalf("Lookup(%q): zero flash page size", name)
		}
	}
}

func TestRegistryUnknownPart(t *testing.T) {
	reg, err := device.NewRegistry(consoleio.NewLogger(false, false))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if _, ok := reg.Lookup("nonexistent-part"); ok {
		t.Fatalf("Lookup(nonexistent-part): found, want not found")
	}
}

func TestRegistryWatchDirOverlay(t *testing.T) {
	dir := t.TempDir()

	custom := `{
		"name": "attiny85",
		"signature_word": 37379,
		"flash_page_words": 32,
		"flash_size_bytes": 8192,
		"eeprom_page_size": 4,
		"vector_table_bytes": 30,
		"status_area_base": 32
	}`

	if err := os.WriteFile(filepath.Join(dir, "attiny85.json"), []byte(custom), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reg, err := device.NewRegistry(consoleio.NewLogger(false, false))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer reg.Close()

	if err := reg.WatchDir(dir); err != nil {
		t.Fatalf("WatchDir: %v", err)
	}

	d, ok := reg.Lookup("attiny85")
	if !ok {
		t.Fatalf("Lookup(attiny85): not found after WatchDir")
	}

	if d.FlashSizeBytes != 8192 {
		t.Fatalf("FlashSizeBytes = %d, want 8192", d.FlashSizeBytes)
	}
}
