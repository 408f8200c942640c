// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"errors"
	"fmt"
	"io"
)

// MaxByteSequenceLength is the upper bound for a decoded byte sequence. Longer lengths are rejected before any
// memory is allocated.
const MaxByteSequenceLength = 1 << 20

var (
	// ErrByteSequenceTooLong is returned when a byte sequence exceeds MaxByteSequenceLength.
	ErrByteSequenceTooLong = errors.New("byte sequence too long")

	// ErrInvalidOptionFlag is returned when an optional value's presence octet is neither 0 nor 1.
	ErrInvalidOptionFlag = errors.New("invalid option flag")
)

// WriteBytes writes a byte sequence as its big-endian uint64 length followed by the raw octets.
func WriteBytes(w io.Writer, data []byte) error {
	if err := WriteU64(w, uint64(len(data))); err != nil {
		return err
	}

	_, err := w.Write(data)
	return err
}

// ReadBytes reads a byte sequence written by WriteBytes. The returned slice is never nil.
func ReadBytes(r io.Reader) ([]byte, error) {
	length, err := ReadU64(r)
	if err != nil {
		return nil, err
	}
	if length > MaxByteSequenceLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrByteSequenceTooLong, length, MaxByteSequenceLength)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, NoEOF(err)
	}
	return data, nil
}

// WriteOptionalU64 writes a presence octet, followed by the value if v is not nil.
func WriteOptionalU64(w io.Writer, v *uint64) error {
	if err := WritePresence(w, v != nil); err != nil || v == nil {
		return err
	}
	return WriteU64(w, *v)
}

// ReadOptionalU64 reads a value written by WriteOptionalU64.
func ReadOptionalU64(r io.Reader) (*uint64, error) {
	present, err := ReadPresence(r)
	if err != nil || !present {
		return nil, err
	}

	v, err := ReadU64(r)
	if err != nil {
		return nil, NoEOF(err)
	}
	return &v, nil
}

// WritePresence writes the presence octet of an optional value.
func WritePresence(w io.Writer, present bool) error {
	if present {
		return WriteU8(w, 1)
	}
	return WriteU8(w, 0)
}

// ReadPresence reads the presence octet of an optional value.
func ReadPresence(r io.Reader) (bool, error) {
	flag, err := ReadU8(r)
	if err != nil {
		return false, err
	}

	switch flag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrInvalidOptionFlag, flag)
	}
}
