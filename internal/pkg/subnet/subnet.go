// Package subnet implements the address exclusivity rule for gateways: no two
// gateways may share an address, a /24 network or a /16 network.
package subnet

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var (
	// ErrInvalidAddress is returned when the candidate is not a dotted IPv4 address.
	ErrInvalidAddress = errors.New("subnet: invalid ipv4 address")

	// ErrDuplicateAddress is returned when the candidate equals an existing address.
	ErrDuplicateAddress = errors.New("subnet: address already in use")

	// ErrDuplicateSubnet is returned when the candidate shares a /24 or /16 network with an existing address.
	ErrDuplicateSubnet = errors.New("subnet: subnet already in use")
)

// Granularities checked by Check, narrowest first.
var granularities = []int{24, 16}

// Parse validates a dotted IPv4 address.
func Parse(address string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return addr, nil
}

// prefixes returns the networks of addr that must not be shared, narrowest first.
func prefixes(addr netip.Addr) []netip.Prefix {
	networks := make([]netip.Prefix, 0, len(granularities))
	for _, bits := range granularities {
		p, _ := addr.Prefix(bits)
		networks = append(networks, p)
	}
	return networks
}

// Check validates candidate against the addresses already in use. Existing
// entries that do not parse are ignored.
func Check(candidate string, existing []string) error {
	addr, err := Parse(candidate)
	if err != nil {
		return err
	}

	for _, other := range existing {
		otherAddr, err := Parse(other)
		if err != nil {
			continue
		}

		if otherAddr == addr {
			return fmt.Errorf("%w: %s", ErrDuplicateAddress, addr)
		}
	}

	for _, p := range prefixes(addr) {
		for _, other := range existing {
			otherAddr, err := Parse(other)
			if err != nil {
				continue
			}

			if p.Contains(otherAddr) {
				return fmt.Errorf("%w: %s collides with %s", ErrDuplicateSubnet, p, otherAddr)
			}
		}
	}

	return nil
}
