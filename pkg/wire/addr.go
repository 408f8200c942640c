// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
)

const (
	// addrVersion4 prefixes an IPv4 address, followed by four octets.
	addrVersion4 uint8 = 4

	// addrVersion6 prefixes an IPv6 address, followed by sixteen octets.
	addrVersion6 uint8 = 6
)

var (
	// ErrInvalidAddr is returned when writing the zero netip.Addr or netip.AddrPort.
	ErrInvalidAddr = errors.New("invalid address")

	// ErrInvalidAddrVersion is returned when an address' version octet is neither 4 nor 6.
	ErrInvalidAddrVersion = errors.New("invalid address version")

	// ErrZonedAddr is returned when writing an IPv6 address with a zone, which has no wire representation.
	ErrZonedAddr = errors.New("zoned address")
)

// WriteAddr writes an IP address as its version octet followed by the address octets.
func WriteAddr(w io.Writer, addr netip.Addr) error {
	switch {
	case !addr.IsValid():
		return ErrInvalidAddr

	case addr.Zone() != "":
		return fmt.Errorf("%w: %v", ErrZonedAddr, addr)

	case addr.Is4():
		octets := addr.As4()
		if err := WriteU8(w, addrVersion4); err != nil {
			return err
		}
		_, err := w.Write(octets[:])
		return err

	default:
		octets := addr.As16()
		if err := WriteU8(w, addrVersion6); err != nil {
			return err
		}
		_, err := w.Write(octets[:])
		return err
	}
}

// ReadAddr reads an IP address written by WriteAddr.
func ReadAddr(r io.Reader) (addr netip.Addr, err error) {
	version, err := ReadU8(r)
	if err != nil {
		return
	}

	switch version {
	case addrVersion4:
		var octets [4]byte
		if _, err = io.ReadFull(r, octets[:]); err != nil {
			err = NoEOF(err)
			return
		}
		addr = netip.AddrFrom4(octets)

	case addrVersion6:
		var octets [16]byte
		if _, err = io.ReadFull(r, octets[:]); err != nil {
			err = NoEOF(err)
			return
		}
		addr = netip.AddrFrom16(octets)

	default:
		err = fmt.Errorf("%w: %d", ErrInvalidAddrVersion, version)
	}

	return
}

// WriteAddrPort writes a socket address as its IP address followed by the big-endian port.
func WriteAddrPort(w io.Writer, addrPort netip.AddrPort) error {
	if !addrPort.IsValid() {
		return ErrInvalidAddr
	}

	if err := WriteAddr(w, addrPort.Addr()); err != nil {
		return err
	}
	return WriteU16(w, addrPort.Port())
}

// ReadAddrPort reads a socket address written by WriteAddrPort.
func ReadAddrPort(r io.Reader) (netip.AddrPort, error) {
	addr, err := ReadAddr(r)
	if err != nil {
		return netip.AddrPort{}, err
	}

	port, err := ReadU16(r)
	if err != nil {
		return netip.AddrPort{}, NoEOF(err)
	}

	return netip.AddrPortFrom(addr, port), nil
}
