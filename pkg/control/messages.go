// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"

	"github.com/tunnelfeed/agentproto/pkg/wire"
)

// Pong answers an agent's ping and tells the agent how the tunnel server sees it.
type Pong struct {
	RequestNow      uint64
	ServerNow       uint64
	ServerID        uint64
	DataCenterID    uint32
	ClientAddr      netip.AddrPort
	TunnelAddr      netip.AddrPort
	SessionExpireAt *uint64
}

func (*Pong) ResponseID() ResponseID { return PongID }

func (p Pong) String() string {
	expire := "none"
	if p.SessionExpireAt != nil {
		expire = fmt.Sprintf("%d", *p.SessionExpireAt)
	}

	return fmt.Sprintf("Pong(request now=%d, server now=%d, server id=%d, data center id=%d, client=%v, tunnel=%v, session expire at=%s)",
		p.RequestNow, p.ServerNow, p.ServerID, p.DataCenterID, p.ClientAddr, p.TunnelAddr, expire)
}

func (p *Pong) Marshal(w io.Writer) error {
	for _, v := range []uint64{p.RequestNow, p.ServerNow, p.ServerID} {
		if err := wire.WriteU64(w, v); err != nil {
			return err
		}
	}
	if err := wire.WriteU32(w, p.DataCenterID); err != nil {
		return err
	}
	if err := wire.WriteAddrPort(w, p.ClientAddr); err != nil {
		return err
	}
	if err := wire.WriteAddrPort(w, p.TunnelAddr); err != nil {
		return err
	}
	return wire.WriteOptionalU64(w, p.SessionExpireAt)
}

func (p *Pong) Unmarshal(r io.Reader) (err error) {
	var tmp Pong

	if tmp.RequestNow, err = wire.ReadU64(r); err != nil {
		return
	}
	if tmp.ServerNow, err = wire.ReadU64(r); err != nil {
		return
	}
	if tmp.ServerID, err = wire.ReadU64(r); err != nil {
		return
	}
	if tmp.DataCenterID, err = wire.ReadU32(r); err != nil {
		return
	}
	if tmp.ClientAddr, err = wire.ReadAddrPort(r); err != nil {
		return
	}
	if tmp.TunnelAddr, err = wire.ReadAddrPort(r); err != nil {
		return
	}
	if tmp.SessionExpireAt, err = wire.ReadOptionalU64(r); err != nil {
		return
	}

	*p = tmp
	return
}

// emptyResponse is embedded by all Responses without a body.
type emptyResponse struct{}

func (emptyResponse) Marshal(io.Writer) error   { return nil }
func (emptyResponse) Unmarshal(io.Reader) error { return nil }

// InvalidSignature reports that the request's signature could not be verified.
type InvalidSignature struct{ emptyResponse }

func (*InvalidSignature) ResponseID() ResponseID { return InvalidSignatureID }
func (InvalidSignature) String() string          { return "InvalidSignature" }

// Unauthorized reports that the agent is not allowed to perform the request.
type Unauthorized struct{ emptyResponse }

func (*Unauthorized) ResponseID() ResponseID { return UnauthorizedID }
func (Unauthorized) String() string          { return "Unauthorized" }

// RequestQueued reports that the request was accepted, but its result is not yet available.
type RequestQueued struct{ emptyResponse }

func (*RequestQueued) ResponseID() ResponseID { return RequestQueuedID }
func (RequestQueued) String() string          { return "RequestQueued" }

// TryAgainLater reports a temporary failure on the tunnel server's side.
type TryAgainLater struct{ emptyResponse }

func (*TryAgainLater) ResponseID() ResponseID { return TryAgainLaterID }
func (TryAgainLater) String() string          { return "TryAgainLater" }

// AgentSessionID identifies a registered agent session.
type AgentSessionID struct {
	SessionID uint64
	AccountID uint64
	AgentID   uint64
}

func (id AgentSessionID) String() string {
	return fmt.Sprintf("AgentSessionID(session=%d, account=%d, agent=%d)", id.SessionID, id.AccountID, id.AgentID)
}

func (id *AgentSessionID) Marshal(w io.Writer) error {
	for _, v := range []uint64{id.SessionID, id.AccountID, id.AgentID} {
		if err := wire.WriteU64(w, v); err != nil {
			return err
		}
	}
	return nil
}

func (id *AgentSessionID) Unmarshal(r io.Reader) (err error) {
	var tmp AgentSessionID

	if tmp.SessionID, err = wire.ReadU64(r); err != nil {
		return
	}
	if tmp.AccountID, err = wire.ReadU64(r); err != nil {
		return
	}
	if tmp.AgentID, err = wire.ReadU64(r); err != nil {
		return
	}

	*id = tmp
	return
}

// AgentRegistered confirms an agent's registration and tells it when the session expires.
type AgentRegistered struct {
	ID        AgentSessionID
	ExpiresAt uint64
}

func (*AgentRegistered) ResponseID() ResponseID { return AgentRegisteredID }

func (ar AgentRegistered) String() string {
	return fmt.Sprintf("AgentRegistered(id=%v, expires at=%d)", ar.ID, ar.ExpiresAt)
}

func (ar *AgentRegistered) Marshal(w io.Writer) error {
	if err := ar.ID.Marshal(w); err != nil {
		return err
	}
	return wire.WriteU64(w, ar.ExpiresAt)
}

func (ar *AgentRegistered) Unmarshal(r io.Reader) (err error) {
	var tmp AgentRegistered

	if err = tmp.ID.Unmarshal(r); err != nil {
		return
	}
	if tmp.ExpiresAt, err = wire.ReadU64(r); err != nil {
		return
	}

	*ar = tmp
	return
}

// UdpChannelDetails tells an agent where and how to establish its UDP channel. The Token is opaque.
type UdpChannelDetails struct {
	TunnelAddr netip.AddrPort
	Token      []byte
}

func (*UdpChannelDetails) ResponseID() ResponseID { return UdpChannelDetailsID }

func (ucd UdpChannelDetails) String() string {
	return fmt.Sprintf("UdpChannelDetails(tunnel=%v, token=%s)", ucd.TunnelAddr, hex.EncodeToString(ucd.Token))
}

func (ucd *UdpChannelDetails) Marshal(w io.Writer) error {
	if err := wire.WriteAddrPort(w, ucd.TunnelAddr); err != nil {
		return err
	}
	return wire.WriteBytes(w, ucd.Token)
}

func (ucd *UdpChannelDetails) Unmarshal(r io.Reader) (err error) {
	var tmp UdpChannelDetails

	if tmp.TunnelAddr, err = wire.ReadAddrPort(r); err != nil {
		return
	}
	if tmp.Token, err = wire.ReadBytes(r); err != nil {
		return
	}

	*ucd = tmp
	return
}
