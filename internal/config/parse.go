package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/brouteexp/broute-exporter/internal/echonet"
)

// ParseEoj parses a 6-hex-char object id ("028801") into an echonet.Eoj.
func ParseEoj(s string) (echonet.Eoj, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 3 {
		return echonet.Eoj{}, fmt.Errorf("config: %q is not a 6-hex-char object id", s)
	}
	return echonet.Eoj{ClassGroup: b[0], ClassCode: b[1], Instance: b[2]}, nil
}

// ParseEpc parses a 2-hex-char property code ("E7").
func ParseEpc(s string) (byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 1 {
		return 0, fmt.Errorf("config: %q is not a 2-hex-char property code", s)
	}
	return b[0], nil
}

// ParseLayout parses a comma-separated field-tag list ("i16,i16").
func ParseLayout(s string) ([]echonet.FieldType, error) {
	parts := strings.Split(s, ",")
	out := make([]echonet.FieldType, 0, len(parts))
	for _, p := range parts {
		t, err := echonet.ParseFieldType(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
