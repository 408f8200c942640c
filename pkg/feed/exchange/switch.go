// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package exchange moves feed.ControlFeeds between channels and an underlying connection.
//
// ControlFeeds are self-delimiting. Thus, a byte stream carries them back-to-back, while a WebSocket carries exactly
// one ControlFeed per binary message. Neither adds framing of its own.
package exchange

import (
	"errors"
	"io"
	"sync"

	"github.com/tunnelfeed/agentproto/pkg/feed"
)

// channelSize is the buffer size of both the incoming and the outgoing channel.
const channelSize = 32

var (
	// ErrFinished is returned by Close if the Switch has already finished, either by an earlier Close or an error.
	ErrFinished = errors.New("switch has already finished")

	// ErrFraming is sent if a WebSocket message does not hold exactly one ControlFeed.
	ErrFraming = errors.New("WebSocket message does not hold exactly one ControlFeed")
)

// Switch is the interface for an exchange between feed.ControlFeeds from channels and an underlying layer.
type Switch interface {
	io.Closer

	// Exchange channels to be serialized.
	//
	// 	* incoming is a "receive only" channel for incoming ControlFeeds.
	//	* outgoing is a "send only" channel for outgoing ControlFeeds.
	//	* errChan is another "receive only" channel to propagate errors. Only one error will be sent.
	//
	// An io.EOF on errChan reports that the peer ended the connection between two ControlFeeds. Each other error,
	// including io.ErrUnexpectedEOF for a ControlFeed cut off by the peer, reports a broken exchange.
	Exchange() (incoming <-chan feed.ControlFeed, outgoing chan<- feed.ControlFeed, errChan <-chan error)
}

// lifecycle is shared by the Switch implementations. It is finished exactly once, by Close or by the first error,
// which closes done. Both handler goroutines return as soon as done is closed; a handler blocked in a read on the
// underlying connection returns when its owner closes that connection.
type lifecycle struct {
	inChan  chan feed.ControlFeed
	outChan chan feed.ControlFeed
	errChan chan error

	done     chan struct{}
	doneOnce sync.Once
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		inChan:  make(chan feed.ControlFeed, channelSize),
		outChan: make(chan feed.ControlFeed, channelSize),
		errChan: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// finish closes done. Only the first call reports true.
func (lc *lifecycle) finish() (first bool) {
	lc.doneOnce.Do(func() {
		close(lc.done)
		first = true
	})
	return
}

// sendErr finishes the lifecycle and propagates err, unless it was already finished.
func (lc *lifecycle) sendErr(err error) {
	if lc.finish() {
		lc.errChan <- err
	}
}

// deliver hands a received ControlFeed to the incoming channel. It reports false if the lifecycle finished before.
func (lc *lifecycle) deliver(f feed.ControlFeed) bool {
	select {
	case lc.inChan <- f:
		return true
	case <-lc.done:
		return false
	}
}

// next waits for the next outgoing ControlFeed. It reports false once the lifecycle has finished.
func (lc *lifecycle) next() (feed.ControlFeed, bool) {
	select {
	case <-lc.done:
		return nil, false

	case f := <-lc.outChan:
		select {
		case <-lc.done:
			return nil, false
		default:
			return f, true
		}
	}
}

// pending reports if more outgoing ControlFeeds are already queued.
func (lc *lifecycle) pending() bool {
	return len(lc.outChan) > 0
}

// Close the Switch. ErrFinished is returned if it has already finished.
// The underlying connection must be closed by its owner afterwards.
func (lc *lifecycle) Close() error {
	if !lc.finish() {
		return ErrFinished
	}
	return nil
}

// Exchange channels to be serialized.
func (lc *lifecycle) Exchange() (incoming <-chan feed.ControlFeed, outgoing chan<- feed.ControlFeed, errChan <-chan error) {
	return lc.inChan, lc.outChan, lc.errChan
}

// Done is closed when the Switch has finished.
func (lc *lifecycle) Done() <-chan struct{} {
	return lc.done
}
