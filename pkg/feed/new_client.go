// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package feed

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/hashicorp/go-multierror"

	"github.com/tunnelfeed/agentproto/pkg/wire"
)

// NewClient describes a client connection a tunnel server hands off to an agent.
//
// All five fields are always present on the wire, in this order. No field is validated while encoding or decoding.
type NewClient struct {
	ConnectAddr       netip.AddrPort
	PeerAddr          netip.AddrPort
	ClaimInstructions ClaimInstructions
	TunnelServerID    uint64
	DataCenterID      uint32
}

func (nc NewClient) String() string {
	return fmt.Sprintf("NewClient(connect=%v, peer=%v, claim=%v, tunnel server id=%d, data center id=%d)",
		nc.ConnectAddr, nc.PeerAddr, nc.ClaimInstructions, nc.TunnelServerID, nc.DataCenterID)
}

// Equal compares two NewClients field by field.
func (nc NewClient) Equal(other NewClient) bool {
	return nc.ConnectAddr == other.ConnectAddr &&
		nc.PeerAddr == other.PeerAddr &&
		nc.ClaimInstructions.Equal(other.ClaimInstructions) &&
		nc.TunnelServerID == other.TunnelServerID &&
		nc.DataCenterID == other.DataCenterID
}

func (nc *NewClient) Marshal(w io.Writer) error {
	if err := wire.WriteAddrPort(w, nc.ConnectAddr); err != nil {
		return err
	}
	if err := wire.WriteAddrPort(w, nc.PeerAddr); err != nil {
		return err
	}
	if err := nc.ClaimInstructions.Marshal(w); err != nil {
		return err
	}
	if err := wire.WriteU64(w, nc.TunnelServerID); err != nil {
		return err
	}
	return wire.WriteU32(w, nc.DataCenterID)
}

// Unmarshal reads all five fields in order. On failure, nc is left untouched. Only a NewClient missing entirely
// results in io.EOF; one cut off after its first octet results in io.ErrUnexpectedEOF.
func (nc *NewClient) Unmarshal(r io.Reader) error {
	var tmp NewClient

	addr, err := wire.ReadAddrPort(r)
	if err != nil {
		return err
	}
	tmp.ConnectAddr = addr

	if err := tmp.unmarshalTail(r); err != nil {
		return wire.NoEOF(err)
	}

	*nc = tmp
	return nil
}

// unmarshalTail reads all fields following the connect address.
func (nc *NewClient) unmarshalTail(r io.Reader) (err error) {
	if nc.PeerAddr, err = wire.ReadAddrPort(r); err != nil {
		return
	}
	if err = nc.ClaimInstructions.Unmarshal(r); err != nil {
		return
	}
	if nc.TunnelServerID, err = wire.ReadU64(r); err != nil {
		return
	}
	nc.DataCenterID, err = wire.ReadU32(r)
	return
}

// CheckValid performs a structural sanity check for tooling. The codec itself never calls it.
func (nc NewClient) CheckValid() (errs error) {
	checkAddr := func(name string, addr netip.AddrPort) {
		if !addr.IsValid() {
			errs = multierror.Append(errs, fmt.Errorf("NewClient: %s is not set", name))
		} else if addr.Port() == 0 {
			errs = multierror.Append(errs, fmt.Errorf("NewClient: %s %v has no port", name, addr))
		}
	}

	checkAddr("connect address", nc.ConnectAddr)
	checkAddr("peer address", nc.PeerAddr)
	checkAddr("claim address", nc.ClaimInstructions.Address)

	if len(nc.ClaimInstructions.Token) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("NewClient: claim token is empty"))
	}

	return
}
