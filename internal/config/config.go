// Package config loads the exporter's static parameters from a TOML file,
// writing out a default file (plain TOML, no comments) on first run — the same
// decode-or-seed pattern used throughout the retrieved corpus for small
// service configs (see DESIGN.md).
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Credentials is the optional Route-B identity.
type Credentials struct {
	RouteBID string `toml:"rbid"`
	Password string `toml:"pwd"`
}

// Measure configures one exported metric: which EPC to read from the
// target object's Get_Res, and how to decode its EDT. Layout is a
// comma-separated list of field tags (i8, i16, i32, u8, u16, u32); more
// than one tag splits a single EDT into several named values (e.g. an R/T
// current pair sharing one EPC).
type Measure struct {
	Name   string `toml:"name"`
	Help   string `toml:"help"`
	Epc    string `toml:"epc"`
	Layout string `toml:"layout"`
}

// Config is every static parameter the core and its HTTP frontend need.
type Config struct {
	SerialDevicePath string       `toml:"serial_device_path"`
	Baud             int          `toml:"baud"`
	Credentials      *Credentials `toml:"credentials"`
	ScanChannelMask  uint32       `toml:"scan_channel_mask"`
	ScanDuration     uint8        `toml:"scan_duration"`
	TargetObject     string       `toml:"target_object"`
	Measures         []Measure    `toml:"measures"`
	RecvTimeoutMs    int          `toml:"recv_timeout_ms"`
	ListenAddress    string       `toml:"listen_address"`
}

func defaultConfig() *Config {
	return &Config{
		SerialDevicePath: "/dev/ttyUSB0",
		Baud:             115200,
		ScanChannelMask:  0xFFFFFFFF,
		ScanDuration:     6,
		TargetObject:     "028801",
		RecvTimeoutMs:    5000,
		ListenAddress:    ":9327",
		Measures: []Measure{
			{Name: "instantaneous_power_watts", Help: "Instantaneous electric power, in watts", Epc: "E7", Layout: "i32"},
			{Name: "instantaneous_current_amps", Help: "Instantaneous current, R and T phases, in 0.1A units", Epc: "E8", Layout: "i16,i16"},
		},
	}
}

func applyDefaults(c *Config) {
	d := defaultConfig()
	if c.SerialDevicePath == "" {
		c.SerialDevicePath = d.SerialDevicePath
	}
	if c.Baud == 0 {
		c.Baud = d.Baud
	}
	if c.ScanChannelMask == 0 {
		c.ScanChannelMask = d.ScanChannelMask
	}
	if c.ScanDuration == 0 {
		c.ScanDuration = d.ScanDuration
	}
	if c.TargetObject == "" {
		c.TargetObject = d.TargetObject
	}
	if c.RecvTimeoutMs == 0 {
		c.RecvTimeoutMs = d.RecvTimeoutMs
	}
	if c.ListenAddress == "" {
		c.ListenAddress = d.ListenAddress
	}
	if len(c.Measures) == 0 {
		c.Measures = d.Measures
	}
}

// Load reads path, decoding it as TOML. If path does not exist, a default
// configuration is written there and returned, so a first run produces an
// editable starting point rather than failing outright.
func Load(path string) (*Config, error) {
	_, statErr := os.Stat(path)
	if statErr == nil {
		c := &Config{}
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		applyDefaults(c)
		return c, nil
	}
	if !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("config: stat %s: %w", path, statErr)
	}
	c := defaultConfig()
	if err := writeDefault(path, c); err != nil {
		return nil, err
	}
	return c, nil
}

func writeDefault(path string, c *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
