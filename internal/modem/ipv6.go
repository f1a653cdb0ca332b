package modem

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// FormatIPv6Full renders ip as 8 uppercase 4-hex-digit groups separated by
// colons, with no zero compression — the literal form the modem's command
// set expects on the wire, as opposed to net.IP.String()'s compressed form.
func FormatIPv6Full(ip net.IP) (string, error) {
	ip16 := ip.To16()
	if ip16 == nil {
		return "", fmt.Errorf("modem: %v is not a valid IPv6 address", ip)
	}
	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		groups[i] = fmt.Sprintf("%04X", binary.BigEndian.Uint16(ip16[i*2:i*2+2]))
	}
	return strings.Join(groups, ":"), nil
}
