// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package feed implements the control feed, the tagged union a tunnel server pushes to its agents.
//
// Each ControlFeed starts with a four octet big-endian type code, followed by the variant's body:
//
//	+----------------+------------------------------------------+
//	| FeedID (u32)   | ResponseEnvelope or NewClient body       |
//	+----------------+------------------------------------------+
//
// A NewClient body is its connect address, peer address, ClaimInstructions (address and length-prefixed token),
// the tunnel server id (u64) and the data center id (u32).
//
// WriteFeed and ReadFeed are synchronous and keep no state. A failed ReadFeed yields no value; the Reader's
// position is meaningless afterwards.
package feed

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/tunnelfeed/agentproto/pkg/control"
	"github.com/tunnelfeed/agentproto/pkg/wire"
)

// FeedID is the four octet type code of a ControlFeed.
type FeedID uint32

const (
	// ResponseFeedID identifies a ResponseFeed.
	ResponseFeedID FeedID = 1

	// NewClientFeedID identifies a NewClientFeed.
	NewClientFeedID FeedID = 2
)

func (id FeedID) String() string {
	switch id {
	case ResponseFeedID:
		return "Response"
	case NewClientFeedID:
		return "NewClient"
	default:
		return "INVALID"
	}
}

// ErrInvalidFeedID is returned when decoding an unknown ControlFeed type code. It does not distinguish a corrupt
// stream from a misbehaving peer.
var ErrInvalidFeedID = errors.New("invalid ControlFeed id")

// ControlFeed is either a *ResponseFeed or a *NewClientFeed. The set of variants is closed.
type ControlFeed interface {
	fmt.Stringer

	// FeedID returns this ControlFeed's type code.
	FeedID() FeedID

	isControlFeed()
}

// ResponseFeed pushes an RPC response, correlated to an agent's prior request.
type ResponseFeed struct {
	Envelope control.ResponseEnvelope
}

func (*ResponseFeed) FeedID() FeedID { return ResponseFeedID }
func (*ResponseFeed) isControlFeed() {}

func (rf ResponseFeed) String() string {
	return fmt.Sprintf("ControlFeed::Response(%v)", rf.Envelope)
}

// NewClientFeed tells an agent to accept a new client connection.
type NewClientFeed struct {
	Client NewClient
}

func (*NewClientFeed) FeedID() FeedID { return NewClientFeedID }
func (*NewClientFeed) isControlFeed() {}

func (ncf NewClientFeed) String() string {
	return fmt.Sprintf("ControlFeed::NewClient(%v)", ncf.Client)
}

// NewResponse wraps a ResponseEnvelope into a ControlFeed.
func NewResponse(env control.ResponseEnvelope) *ResponseFeed {
	return &ResponseFeed{Envelope: env}
}

// NewNewClient wraps a NewClient into a ControlFeed.
func NewNewClient(nc NewClient) *NewClientFeed {
	return &NewClientFeed{Client: nc}
}

// ErrNilFeed is returned when writing a nil ControlFeed.
var ErrNilFeed = errors.New("nil ControlFeed")

// WriteFeed writes a ControlFeed's type code, followed by the variant's body.
func WriteFeed(w io.Writer, f ControlFeed) error {
	switch f := f.(type) {
	case nil:
		return ErrNilFeed

	case *ResponseFeed:
		if f == nil {
			return ErrNilFeed
		}
		if err := wire.WriteU32(w, uint32(ResponseFeedID)); err != nil {
			return err
		}
		return f.Envelope.Marshal(w)

	case *NewClientFeed:
		if f == nil {
			return ErrNilFeed
		}
		if err := wire.WriteU32(w, uint32(NewClientFeedID)); err != nil {
			return err
		}
		return f.Client.Marshal(w)

	default:
		return fmt.Errorf("unsupported ControlFeed %T", f)
	}
}

// ReadFeed reads the next ControlFeed from the Reader.
//
// io.EOF is only returned if the Reader was exhausted before the first octet, i.e., the stream ended between two
// ControlFeeds. A ControlFeed cut off anywhere later results in io.ErrUnexpectedEOF.
func ReadFeed(r io.Reader) (ControlFeed, error) {
	id, err := wire.ReadU32(r)
	if err != nil {
		return nil, err
	}

	switch FeedID(id) {
	case ResponseFeedID:
		rf := new(ResponseFeed)
		if err := rf.Envelope.Unmarshal(r); err != nil {
			return nil, wire.NoEOF(err)
		}
		return rf, nil

	case NewClientFeedID:
		ncf := new(NewClientFeed)
		if err := ncf.Client.Unmarshal(r); err != nil {
			return nil, wire.NoEOF(err)
		}
		return ncf, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidFeedID, id)
	}
}

// Equal compares two ControlFeeds. ResponseFeeds are compared by their request id and their content's encoding.
func Equal(a, b ControlFeed) bool {
	switch a := a.(type) {
	case *ResponseFeed:
		b, ok := b.(*ResponseFeed)
		if !ok || a == nil || b == nil {
			return ok && a == b
		}
		return a.Envelope.RequestID == b.Envelope.RequestID && responseEqual(a.Envelope.Content, b.Envelope.Content)

	case *NewClientFeed:
		b, ok := b.(*NewClientFeed)
		if !ok || a == nil || b == nil {
			return ok && a == b
		}
		return a.Client.Equal(b.Client)

	default:
		return false
	}
}

// responseEqual compares two Responses by their type code and encoding, as Responses may carry byte slices.
func responseEqual(a, b control.Response) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.ResponseID() != b.ResponseID() {
		return false
	}

	var bufA, bufB bytes.Buffer
	if a.Marshal(&bufA) != nil || b.Marshal(&bufB) != nil {
		return false
	}
	return bytes.Equal(bufA.Bytes(), bufB.Bytes())
}
