//go:build linux

package engine

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"grimm.is/npfd/internal/nft"
)

// Network header offsets of the address fields.
const (
	ipv4SrcOffset = 12
	ipv4DstOffset = 16
	ipv4AddrLen   = 4
	ipv6SrcOffset = 8
	ipv6DstOffset = 24
	ipv6AddrLen   = 16
)

func verdict(a Action) *expr.Verdict {
	if a == ActionBlock {
		return &expr.Verdict{Kind: expr.VerdictDrop}
	}
	return &expr.Verdict{Kind: expr.VerdictAccept}
}

func ruleExprs(r Rule, sets map[string]*nftables.Set) ([]expr.Any, error) {
	act, err := ParseAction(r.Action)
	if err != nil {
		return nil, err
	}

	var exprs []expr.Any
	if r.Interface != "" {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
			&expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     nft.IfName(r.Interface),
			},
		)
	}
	if r.SrcTable != "" {
		m, err := setMatch(r.SrcTable, true, sets)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, m...)
	}
	if r.DstTable != "" {
		m, err := setMatch(r.DstTable, false, sets)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, m...)
	}

	exprs = append(exprs, &expr.Counter{}, verdict(act))
	return exprs, nil
}

// setMatch loads the source or destination address and looks it up in
// the named set. The protocol check keeps IPv4 offsets off IPv6 packets in
// inet tables.
func setMatch(name string, isSrc bool, sets map[string]*nftables.Set) ([]expr.Any, error) {
	set, ok := sets[name]
	if !ok {
		return nil, fmt.Errorf("%w: table %q", ErrNotFound, name)
	}

	proto := byte(unix.NFPROTO_IPV4)
	offset, length := uint32(ipv4DstOffset), uint32(ipv4AddrLen)
	if isSrc {
		offset = ipv4SrcOffset
	}
	if set.KeyType == nftables.TypeIP6Addr {
		proto = unix.NFPROTO_IPV6
		offset, length = ipv6DstOffset, ipv6AddrLen
		if isSrc {
			offset = ipv6SrcOffset
		}
	}

	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          length,
		},
		&expr.Lookup{
			SourceRegister: 1,
			SetName:        set.Name,
			SetID:          set.ID,
		},
	}, nil
}

// elementKeys parses addresses into set keys and their canonical text.
func elementKeys(addrs []string, ipv6 bool) ([]nftables.SetElement, []string, error) {
	keys := make([]nftables.SetElement, 0, len(addrs))
	canon := make([]string, 0, len(addrs))
	for _, a := range addrs {
		addr, err := parseAddr(a, ipv6)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, nftables.SetElement{Key: addr.AsSlice()})
		canon = append(canon, addr.String())
	}
	return keys, canon, nil
}
