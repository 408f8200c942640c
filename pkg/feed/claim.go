// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package feed

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"

	"github.com/tunnelfeed/agentproto/pkg/wire"
)

// ClaimInstructions are presented by an agent to claim a handed-off client connection.
//
// The Token is opaque to this package. It is transported byte by byte and rendered as hex for diagnostics, as it is
// not guaranteed to be printable text.
type ClaimInstructions struct {
	Address netip.AddrPort
	Token   []byte
}

func (ci ClaimInstructions) String() string {
	return fmt.Sprintf("ClaimInstructions { address: %v, token: %s }", ci.Address, hex.EncodeToString(ci.Token))
}

// Equal compares two ClaimInstructions, including their Tokens' raw bytes.
func (ci ClaimInstructions) Equal(other ClaimInstructions) bool {
	return ci.Address == other.Address && bytes.Equal(ci.Token, other.Token)
}

func (ci *ClaimInstructions) Marshal(w io.Writer) error {
	if err := wire.WriteAddrPort(w, ci.Address); err != nil {
		return err
	}
	return wire.WriteBytes(w, ci.Token)
}

// Unmarshal reads the Address, followed by the Token. On failure, ci is left untouched.
func (ci *ClaimInstructions) Unmarshal(r io.Reader) (err error) {
	var tmp ClaimInstructions

	if tmp.Address, err = wire.ReadAddrPort(r); err != nil {
		return
	}
	if tmp.Token, err = wire.ReadBytes(r); err != nil {
		err = wire.NoEOF(err)
		return
	}

	*ci = tmp
	return
}
