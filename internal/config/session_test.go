package config

import (
	"path/filepath"
	"testing"
)

func TestValidateRejectsPortOutOfRange(t *testing.T) {
	s := Default()
	s.Device = "atmega644p"
	s.ListenPort = 80

	if err := s.Validate(); err == nil {
		t.Fatal("expected error for port 80")
	}
}

func TestValidateRequiresDevice(t *testing.T) {
	s := Default()
	s.ListenPort = 4242

	if err := s.Validate(); err == nil {
		t.Fatal("expected error for missing device")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")

	want := Default()
	want.Device = "atmega644p"
	want.ListenPort = 4242
	want.IgnoreInterrupts = true

	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}
