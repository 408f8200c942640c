// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/tunnelfeed/agentproto/pkg/feed"
)

// SwitchWebSocket exchanges feed.ControlFeeds over a *websocket.Conn. Each ControlFeed is sent as a single binary
// message; a received message must hold exactly one ControlFeed.
type SwitchWebSocket struct {
	*lifecycle

	conn *websocket.Conn
}

// NewSwitchWebSocket for a *websocket.Conn to exchange feed.ControlFeeds to channels.
func NewSwitchWebSocket(conn *websocket.Conn) (s *SwitchWebSocket) {
	s = &SwitchWebSocket{
		lifecycle: newLifecycle(),

		conn: conn,
	}

	go s.handleIn()
	go s.handleOut()

	return
}

// readMessage decodes a single ControlFeed from a binary message. Both an empty or cut off message and trailing data
// after the ControlFeed are ErrFraming errors.
func readMessage(r io.Reader) (feed.ControlFeed, error) {
	f, err := feed.ReadFeed(r)
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty message", ErrFraming)
	} else if err == io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: %v", ErrFraming, err)
	} else if err != nil {
		return nil, err
	}

	var trailing [1]byte
	if n, err := io.ReadFull(r, trailing[:]); n > 0 {
		return nil, fmt.Errorf("%w: trailing data after %v", ErrFraming, f.FeedID())
	} else if err != io.EOF {
		return nil, err
	}

	return f, nil
}

func (s *SwitchWebSocket) handleIn() {
	for {
		mt, r, err := s.conn.NextReader()
		if err != nil {
			s.sendErr(err)
			return
		}
		if mt != websocket.BinaryMessage {
			s.sendErr(fmt.Errorf("%w: message type %d is not binary", ErrFraming, mt))
			return
		}

		f, err := readMessage(r)
		if err != nil {
			s.sendErr(err)
			return
		}

		log.WithFields(log.Fields{
			"remote": s.conn.RemoteAddr().String(),
			"feed":   f,
		}).Debug("SwitchWebSocket received ControlFeed")

		if !s.deliver(f) {
			return
		}
	}
}

func (s *SwitchWebSocket) handleOut() {
	for {
		f, ok := s.next()
		if !ok {
			return
		}

		if err := s.writeMessage(f); err != nil {
			s.sendErr(err)
			return
		}
	}
}

// writeMessage sends a ControlFeed as one binary message.
func (s *SwitchWebSocket) writeMessage(f feed.ControlFeed) error {
	wc, err := s.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := feed.WriteFeed(wc, f); err != nil {
		_ = wc.Close()
		return err
	}
	return wc.Close()
}
