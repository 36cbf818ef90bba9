package ftp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// EncodePASV formats ip:port the way a server's 227 reply body does:
// "(h1,h2,h3,h4,p1,p2)". Only IPv4 is representable in PASV.
func EncodePASV(ip net.IP, port int) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("ftp: PASV requires an IPv4 address, got %s", ip)
	}
	p1, p2 := port>>8, port&0xff
	return fmt.Sprintf("(%d,%d,%d,%d,%d,%d)", v4[0], v4[1], v4[2], v4[3], p1, p2), nil
}

// DecodePASV parses a 227 reply body's "(h1,h2,h3,h4,p1,p2)" form. It
// tolerates servers that omit the parentheses.
func DecodePASV(body string) (net.IP, int, error) {
	start := strings.IndexByte(body, '(')
	end := strings.IndexByte(body, ')')
	var nums string
	if start >= 0 && end > start {
		nums = body[start+1 : end]
	} else {
		nums = body
	}
	parts := strings.Split(nums, ",")
	if len(parts) != 6 {
		return nil, 0, fmt.Errorf("ftp: malformed PASV reply %q", body)
	}
	b := make([]byte, 4)
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || n < 0 || n > 255 {
			return nil, 0, fmt.Errorf("ftp: malformed PASV octet in %q", body)
		}
		b[i] = byte(n)
	}
	p1, err1 := strconv.Atoi(strings.TrimSpace(parts[4]))
	p2, err2 := strconv.Atoi(strings.TrimSpace(parts[5]))
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return nil, 0, fmt.Errorf("ftp: malformed PASV port in %q", body)
	}
	return net.IP(b), p1<<8 | p2, nil
}

// EncodeEPSV formats a port the way a server's 229 reply body does:
// "(|||port|)", per RFC 2428. EPSV carries no address (the control
// connection's peer address is implied), which is how it supports
// IPv6 without a dedicated 6-octet-address field.
func EncodeEPSV(port int) string {
	return fmt.Sprintf("(|||%d|)", port)
}

// DecodeEPSV parses a 229 reply body's "(|||port|)" form (the
// delimiter character is technically configurable but "|" is
// near-universal in practice).
func DecodeEPSV(body string) (int, error) {
	start := strings.IndexByte(body, '(')
	end := strings.IndexByte(body, ')')
	if start < 0 || end <= start {
		return 0, fmt.Errorf("ftp: malformed EPSV reply %q", body)
	}
	inner := body[start+1 : end]
	if len(inner) < 2 {
		return 0, fmt.Errorf("ftp: malformed EPSV reply %q", body)
	}
	delim := inner[0]
	fields := strings.Split(inner, string(delim))
	// fields: ["", "", "", "port", ""]
	for i := len(fields) - 1; i >= 0; i-- {
		if fields[i] != "" {
			return strconv.Atoi(fields[i])
		}
	}
	return 0, fmt.Errorf("ftp: malformed EPSV reply %q", body)
}
