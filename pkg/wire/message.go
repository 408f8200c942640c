// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire provides the primitive big-endian codec shared by all control channel messages.
//
// Every primitive is self-delimiting: a reader consumes exactly the bytes a writer produced. Thus, messages
// built from these primitives can be streamed back-to-back without an additional length prefix.
package wire

import (
	"encoding/binary"
	"io"
)

// Message describes all kind of control channel messages, which have their serialization and deserialization
// in common.
type Message interface {
	Marshal(w io.Writer) error
	Unmarshal(r io.Reader) error
}

// WriteU8 writes a single octet.
func WriteU8(w io.Writer, v uint8) error {
	return binary.Write(w, binary.BigEndian, v)
}

// WriteU16 writes a big-endian uint16.
func WriteU16(w io.Writer, v uint16) error {
	return binary.Write(w, binary.BigEndian, v)
}

// WriteU32 writes a big-endian uint32.
func WriteU32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.BigEndian, v)
}

// WriteU64 writes a big-endian uint64.
func WriteU64(w io.Writer, v uint64) error {
	return binary.Write(w, binary.BigEndian, v)
}

// NoEOF turns io.EOF into io.ErrUnexpectedEOF. Once the first octet of a value has been consumed, running out of
// input means the value was truncated, not that the stream has ended.
func NoEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadU8 reads a single octet.
func ReadU8(r io.Reader) (v uint8, err error) {
	err = binary.Read(r, binary.BigEndian, &v)
	return
}

// ReadU16 reads a big-endian uint16.
func ReadU16(r io.Reader) (v uint16, err error) {
	err = binary.Read(r, binary.BigEndian, &v)
	return
}

// ReadU32 reads a big-endian uint32.
func ReadU32(r io.Reader) (v uint32, err error) {
	err = binary.Read(r, binary.BigEndian, &v)
	return
}

// ReadU64 reads a big-endian uint64.
func ReadU64(r io.Reader) (v uint64, err error) {
	err = binary.Read(r, binary.BigEndian, &v)
	return
}
