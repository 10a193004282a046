//go:build linux

package nft

import (
	"fmt"
	"strings"

	"github.com/google/nftables"
)

// ParseFamily maps a configuration family name onto a table family.
func ParseFamily(s string) (nftables.TableFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inet":
		return nftables.TableFamilyINet, nil
	case "ip", "ipv4":
		return nftables.TableFamilyIPv4, nil
	case "ip6", "ipv6":
		return nftables.TableFamilyIPv6, nil
	}
	return nftables.TableFamilyUnspecified, fmt.Errorf("unsupported table family %q", s)
}

// IfName returns name as the NUL padded IFNAMSIZ buffer nftables compares
// interface names against.
func IfName(name string) []byte {
	b := make([]byte, 16)
	copy(b, name)
	return b
}
