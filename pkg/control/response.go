// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package control implements the RPC responses a tunnel server sends to its agents over the control channel.
//
// A ResponseEnvelope correlates a Response to the agent's prior request by its request id. The Response itself is
// a closed set of message types, each identified by a four octet id on the wire.
package control

import (
	"errors"
	"fmt"
	"io"

	"github.com/tunnelfeed/agentproto/pkg/wire"
)

// ResponseID is the four octet type code of a Response.
type ResponseID uint32

const (
	PongID              ResponseID = 1
	InvalidSignatureID  ResponseID = 2
	UnauthorizedID      ResponseID = 3
	RequestQueuedID     ResponseID = 4
	TryAgainLaterID     ResponseID = 5
	AgentRegisteredID   ResponseID = 6
	AgentPortMappingID  ResponseID = 7
	UdpChannelDetailsID ResponseID = 8
)

func (id ResponseID) String() string {
	switch id {
	case PongID:
		return "Pong"
	case InvalidSignatureID:
		return "InvalidSignature"
	case UnauthorizedID:
		return "Unauthorized"
	case RequestQueuedID:
		return "RequestQueued"
	case TryAgainLaterID:
		return "TryAgainLater"
	case AgentRegisteredID:
		return "AgentRegistered"
	case AgentPortMappingID:
		return "AgentPortMapping"
	case UdpChannelDetailsID:
		return "UdpChannelDetails"
	default:
		return "INVALID"
	}
}

// ErrInvalidResponseID is returned when decoding an unknown Response type code.
var ErrInvalidResponseID = errors.New("invalid ControlResponse id")

// Response is one of the control channel's RPC responses. Its Marshal and Unmarshal only cover the response's
// body; the type code is handled by WriteResponse and ReadResponse.
type Response interface {
	wire.Message
	fmt.Stringer

	// ResponseID returns this Response's type code.
	ResponseID() ResponseID
}

// newResponse creates an empty Response for a given type code.
func newResponse(id ResponseID) (Response, error) {
	switch id {
	case PongID:
		return &Pong{}, nil
	case InvalidSignatureID:
		return &InvalidSignature{}, nil
	case UnauthorizedID:
		return &Unauthorized{}, nil
	case RequestQueuedID:
		return &RequestQueued{}, nil
	case TryAgainLaterID:
		return &TryAgainLater{}, nil
	case AgentRegisteredID:
		return &AgentRegistered{}, nil
	case AgentPortMappingID:
		return &AgentPortMapping{}, nil
	case UdpChannelDetailsID:
		return &UdpChannelDetails{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidResponseID, uint32(id))
	}
}

// WriteResponse writes a Response's type code, followed by its body.
func WriteResponse(w io.Writer, res Response) error {
	if err := wire.WriteU32(w, uint32(res.ResponseID())); err != nil {
		return err
	}
	return res.Marshal(w)
}

// ReadResponse reads the next Response from the Reader.
func ReadResponse(r io.Reader) (Response, error) {
	id, err := wire.ReadU32(r)
	if err != nil {
		return nil, err
	}

	res, err := newResponse(ResponseID(id))
	if err != nil {
		return nil, err
	}

	if err := res.Unmarshal(r); err != nil {
		return nil, wire.NoEOF(err)
	}
	return res, nil
}

// ResponseEnvelope is the RPC response pushed through the control feed, correlated to a request by its id.
type ResponseEnvelope struct {
	RequestID uint64
	Content   Response
}

func (env ResponseEnvelope) String() string {
	return fmt.Sprintf("ResponseEnvelope(request id=%d, content=%v)", env.RequestID, env.Content)
}

// Marshal writes the request id, followed by the tagged Response.
func (env ResponseEnvelope) Marshal(w io.Writer) error {
	if env.Content == nil {
		return errors.New("ResponseEnvelope has no content")
	}

	if err := wire.WriteU64(w, env.RequestID); err != nil {
		return err
	}
	return WriteResponse(w, env.Content)
}

// Unmarshal reads a ResponseEnvelope. On failure, env is left untouched.
func (env *ResponseEnvelope) Unmarshal(r io.Reader) error {
	requestID, err := wire.ReadU64(r)
	if err != nil {
		return err
	}

	content, err := ReadResponse(r)
	if err != nil {
		return wire.NoEOF(err)
	}

	env.RequestID = requestID
	env.Content = content
	return nil
}
