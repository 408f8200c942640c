// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"bufio"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/tunnelfeed/agentproto/pkg/feed"
)

// SwitchReaderWriter streams feed.ControlFeeds back-to-back over an io.Reader and io.Writer pair, e.g., both halves
// of an agent's control connection. If one of them is closeable, closing should be performed after the
// SwitchReaderWriter has finished.
type SwitchReaderWriter struct {
	*lifecycle

	in  *bufio.Reader
	out *bufio.Writer
}

// NewSwitchReaderWriter for an io.Reader and io.Writer to exchange feed.ControlFeeds to channels.
func NewSwitchReaderWriter(in io.Reader, out io.Writer) (s *SwitchReaderWriter) {
	s = &SwitchReaderWriter{
		lifecycle: newLifecycle(),

		in:  bufio.NewReader(in),
		out: bufio.NewWriter(out),
	}

	go s.handleIn()
	go s.handleOut()

	return
}

// handleIn reads ControlFeeds until the stream ends. An io.EOF between two ControlFeeds is passed on as the peer's
// regular end of the stream, while a ControlFeed cut off by the peer results in io.ErrUnexpectedEOF.
func (s *SwitchReaderWriter) handleIn() {
	for {
		f, err := feed.ReadFeed(s.in)
		if err == io.EOF {
			log.Debug("SwitchReaderWriter's stream ended between two ControlFeeds")
			s.sendErr(err)
			return
		} else if err != nil {
			s.sendErr(err)
			return
		}

		if !s.deliver(f) {
			return
		}
	}
}

// handleOut writes each outgoing ControlFeed. The buffer is flushed once no other ControlFeed is queued, so a burst
// of ControlFeeds, e.g., a broadcast of several NewClients, results in one write on the connection.
func (s *SwitchReaderWriter) handleOut() {
	for {
		f, ok := s.next()
		if !ok {
			return
		}

		if err := feed.WriteFeed(s.out, f); err != nil {
			s.sendErr(err)
			return
		}

		if s.pending() {
			continue
		}
		if err := s.out.Flush(); err != nil {
			s.sendErr(err)
			return
		}
	}
}
