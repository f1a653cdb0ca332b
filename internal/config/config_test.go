package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broute.toml")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SerialDevicePath == "" || c.Baud != 115200 || len(c.Measures) == 0 {
		t.Fatalf("unexpected defaults: %+v", c)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.SerialDevicePath != c.SerialDevicePath || reloaded.Baud != c.Baud {
		t.Fatalf("reloaded config diverges from written defaults: %+v vs %+v", reloaded, c)
	}
}

func TestLoadAppliesDefaultsToOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broute.toml")
	partial := "serial_device_path = \"/dev/ttyACM0\"\n"
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SerialDevicePath != "/dev/ttyACM0" {
		t.Fatalf("SerialDevicePath = %q, want override preserved", c.SerialDevicePath)
	}
	if c.Baud != 115200 || c.RecvTimeoutMs != 5000 || len(c.Measures) == 0 {
		t.Fatalf("omitted fields not defaulted: %+v", c)
	}
}

func TestParseEojAndLayout(t *testing.T) {
	eoj, err := ParseEoj("028801")
	if err != nil {
		t.Fatalf("ParseEoj: %v", err)
	}
	if eoj.ClassGroup != 0x02 || eoj.ClassCode != 0x88 || eoj.Instance != 0x01 {
		t.Fatalf("unexpected eoj: %+v", eoj)
	}
	layout, err := ParseLayout("i16,i16")
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	if len(layout) != 2 {
		t.Fatalf("want 2 fields, got %d", len(layout))
	}
}
