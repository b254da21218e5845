package scanner

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// DefaultMaxIPs bounds explicit start-end ranges.
// CIDRMaxIPs bounds CIDR expansion (a full /16).
const (
	DefaultMaxIPs = 10000
	CIDRMaxIPs    = 65536
)

// ErrRangeTooLarge is returned when a range expands past the caller's cap
var ErrRangeTooLarge = fmt.Errorf("scan range exceeds maximum IP count")

// ExpandRange turns "a.b.c.d-a.b.c.e" or "a.b.c.d/nn" into the list of
// host addresses to probe. CIDR expansion skips the network and broadcast
// addresses for prefixes shorter than /31.
func ExpandRange(spec string, maxIPs int) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty range")
	}
	if strings.Contains(spec, "/") {
		return expandCIDR(spec, maxIPs)
	}
	return expandStartEnd(spec, maxIPs)
}

func expandStartEnd(spec string, maxIPs int) ([]string, error) {
	if maxIPs <= 0 {
		maxIPs = DefaultMaxIPs
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("range %q: want start-end", spec)
	}
	start, err := parseIPv4(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("range start: %w", err)
	}
	end, err := parseIPv4(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("range end: %w", err)
	}
	if end < start {
		return nil, fmt.Errorf("range %q: end precedes start", spec)
	}
	count := int(end-start) + 1
	if count > maxIPs {
		return nil, fmt.Errorf("%w: %d > %d", ErrRangeTooLarge, count, maxIPs)
	}
	ips := make([]string, 0, count)
	for u := start; ; u++ {
		ips = append(ips, uint32ToIP(u).String())
		if u == end {
			break
		}
	}
	return ips, nil
}

func expandCIDR(spec string, maxIPs int) ([]string, error) {
	if maxIPs <= 0 || maxIPs > CIDRMaxIPs {
		maxIPs = CIDRMaxIPs
	}
	_, ipnet, err := net.ParseCIDR(spec)
	if err != nil {
		return nil, fmt.Errorf("cidr %q: %w", spec, err)
	}
	v4 := ipnet.IP.To4()
	if v4 == nil {
		return nil, fmt.Errorf("cidr %q: IPv4 only", spec)
	}
	ones, bits := ipnet.Mask.Size()
	count := 1 << (bits - ones)
	skipEdges := ones < 31
	hosts := count
	if skipEdges {
		hosts = count - 2
	}
	if hosts > maxIPs {
		return nil, fmt.Errorf("%w: %d > %d", ErrRangeTooLarge, hosts, maxIPs)
	}

	base := binary.BigEndian.Uint32(v4)
	ips := make([]string, 0, hosts)
	for i := 0; i < count; i++ {
		if skipEdges && (i == 0 || i == count-1) {
			continue
		}
		ips = append(ips, uint32ToIP(base+uint32(i)).String())
	}
	return ips, nil
}

func parseIPv4(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", s)
	}
	return binary.BigEndian.Uint32(ip.To4()), nil
}

func uint32ToIP(u uint32) net.IP {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, u)
	return net.IP(b)
}
