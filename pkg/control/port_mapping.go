// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/tunnelfeed/agentproto/pkg/wire"
)

// PortProto is the one octet transport protocol of a PortRange.
type PortProto uint8

const (
	PortProtoBoth PortProto = 1
	PortProtoTCP  PortProto = 2
	PortProtoUDP  PortProto = 3
)

func (pp PortProto) String() string {
	switch pp {
	case PortProtoBoth:
		return "both"
	case PortProtoTCP:
		return "tcp"
	case PortProtoUDP:
		return "udp"
	default:
		return "INVALID"
	}
}

// IsValid checks if this PortProto represents a valid value.
func (pp PortProto) IsValid() bool {
	return pp.String() != "INVALID"
}

// PortRange is a range of ports on one IP address for one or both transport protocols.
type PortRange struct {
	IP        netip.Addr
	PortStart uint16
	PortEnd   uint16
	Proto     PortProto
}

func (pr PortRange) String() string {
	return fmt.Sprintf("%v:%d-%d/%v", pr.IP, pr.PortStart, pr.PortEnd, pr.Proto)
}

func (pr *PortRange) Marshal(w io.Writer) error {
	if err := wire.WriteAddr(w, pr.IP); err != nil {
		return err
	}
	if err := wire.WriteU16(w, pr.PortStart); err != nil {
		return err
	}
	if err := wire.WriteU16(w, pr.PortEnd); err != nil {
		return err
	}
	return wire.WriteU8(w, uint8(pr.Proto))
}

func (pr *PortRange) Unmarshal(r io.Reader) (err error) {
	var tmp PortRange

	if tmp.IP, err = wire.ReadAddr(r); err != nil {
		return
	}
	if tmp.PortStart, err = wire.ReadU16(r); err != nil {
		return
	}
	if tmp.PortEnd, err = wire.ReadU16(r); err != nil {
		return
	}

	var proto uint8
	if proto, err = wire.ReadU8(r); err != nil {
		return
	}
	tmp.Proto = PortProto(proto)
	if !tmp.Proto.IsValid() {
		return fmt.Errorf("PortRange's protocol %d is invalid", proto)
	}

	*pr = tmp
	return
}

// toAgentTag is the type code of the only known AgentPortMapping target.
const toAgentTag uint32 = 1

// AgentPortMapping answers which agent session a PortRange is mapped to. ToAgent is nil if no mapping exists.
type AgentPortMapping struct {
	Range   PortRange
	ToAgent *AgentSessionID
}

func (*AgentPortMapping) ResponseID() ResponseID { return AgentPortMappingID }

func (apm AgentPortMapping) String() string {
	if apm.ToAgent == nil {
		return fmt.Sprintf("AgentPortMapping(range=%v, not found)", apm.Range)
	}
	return fmt.Sprintf("AgentPortMapping(range=%v, to agent=%v)", apm.Range, *apm.ToAgent)
}

func (apm *AgentPortMapping) Marshal(w io.Writer) error {
	if err := apm.Range.Marshal(w); err != nil {
		return err
	}

	if err := wire.WritePresence(w, apm.ToAgent != nil); err != nil || apm.ToAgent == nil {
		return err
	}
	if err := wire.WriteU32(w, toAgentTag); err != nil {
		return err
	}
	return apm.ToAgent.Marshal(w)
}

func (apm *AgentPortMapping) Unmarshal(r io.Reader) (err error) {
	var tmp AgentPortMapping

	if err = tmp.Range.Unmarshal(r); err != nil {
		return
	}

	var found bool
	if found, err = wire.ReadPresence(r); err != nil {
		return
	} else if found {
		var tag uint32
		if tag, err = wire.ReadU32(r); err != nil {
			return
		} else if tag != toAgentTag {
			return fmt.Errorf("AgentPortMapping's target tag %d is invalid", tag)
		}

		tmp.ToAgent = new(AgentSessionID)
		if err = tmp.ToAgent.Unmarshal(r); err != nil {
			return
		}
	}

	*apm = tmp
	return
}
