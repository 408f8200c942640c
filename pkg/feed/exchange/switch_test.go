// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunnelfeed/agentproto/pkg/control"
	"github.com/tunnelfeed/agentproto/pkg/feed"
)

func testFeeds() []feed.ControlFeed {
	return []feed.ControlFeed{
		feed.NewNewClient(feed.NewClient{
			ConnectAddr: netip.MustParseAddrPort("10.0.0.1:9000"),
			PeerAddr:    netip.MustParseAddrPort("203.0.113.5:51010"),
			ClaimInstructions: feed.ClaimInstructions{
				Address: netip.MustParseAddrPort("10.0.0.1:9001"),
				Token:   []byte{0xDE, 0xAD, 0xBE, 0xEF},
			},
			TunnelServerID: 42,
			DataCenterID:   7,
		}),
		feed.NewResponse(control.ResponseEnvelope{RequestID: 23, Content: &control.RequestQueued{}}),
	}
}

func encodeFeeds(t *testing.T, feeds ...feed.ControlFeed) []byte {
	var buf bytes.Buffer
	for _, f := range feeds {
		if err := feed.WriteFeed(&buf, f); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

// checkExchange sends rounds of testFeeds through outgoing and expects them to arrive in order on incoming.
func checkExchange(t *testing.T, s Switch, rounds int) {
	incoming, outgoing, errChan := s.Exchange()
	feeds := testFeeds()

	go func() {
		for i := 0; i < rounds; i++ {
			for _, f := range feeds {
				outgoing <- f
			}
		}
	}()

	for i := 0; i < rounds*len(feeds); i++ {
		select {
		case err := <-errChan:
			t.Fatal(err)

		case f := <-incoming:
			if expected := feeds[i%len(feeds)]; !feed.Equal(expected, f) {
				t.Fatalf("feed %d: expected %v, got %v", i, expected, f)
			}

		case <-time.After(250 * time.Millisecond):
			t.Fatal("timeout")
		}
	}
}

// expectErr waits for the Switch's error after all expected ControlFeeds were received.
func expectErr(t *testing.T, s Switch, feeds int) error {
	incoming, _, errChan := s.Exchange()

	for i := 0; i < feeds; i++ {
		select {
		case <-incoming:
		case err := <-errChan:
			t.Fatalf("expected %d feeds, got error after %d: %v", feeds, i, err)
		case <-time.After(250 * time.Millisecond):
			t.Fatal("timeout")
		}
	}

	select {
	case f := <-incoming:
		t.Fatalf("unexpected feed %v", f)
	case err := <-errChan:
		return err
	case <-time.After(250 * time.Millisecond):
		t.Fatal("timeout")
	}
	return nil
}

// switchHandlers counts the goroutines currently running a SwitchWebSocket handler.
func switchHandlers() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Count(string(buf[:n]), "(*SwitchWebSocket).handle")
}

func websocketURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSwitchReaderWriter(t *testing.T) {
	in, out := io.Pipe()
	s := NewSwitchReaderWriter(in, out)

	checkExchange(t, s, 500)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished for second Close, got %v", err)
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("closed switch is not done")
	}
}

func TestSwitchReaderWriterEndOfStream(t *testing.T) {
	data := encodeFeeds(t, testFeeds()...)

	s := NewSwitchReaderWriter(bytes.NewReader(data), io.Discard)
	if err := expectErr(t, s, 2); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	if err := s.Close(); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished after an error, got %v", err)
	}
}

func TestSwitchReaderWriterCutOff(t *testing.T) {
	first := encodeFeeds(t, testFeeds()[0])

	// Cut after the second feed's id, after its connect address and in the middle of its peer address.
	for _, cut := range []int{4, 11, 14} {
		data := append(append([]byte{}, first...), first[:cut]...)

		s := NewSwitchReaderWriter(bytes.NewReader(data), io.Discard)
		if err := expectErr(t, s, 1); err != io.ErrUnexpectedEOF {
			t.Fatalf("cut at %d: expected io.ErrUnexpectedEOF, got %v", cut, err)
		}
	}
}

func TestSwitchReaderWriterInvalidFeed(t *testing.T) {
	s := NewSwitchReaderWriter(strings.NewReader("\x00\x00\x00\x09garbage"), io.Discard)
	if err := expectErr(t, s, 0); !errors.Is(err, feed.ErrInvalidFeedID) {
		t.Fatalf("expected ErrInvalidFeedID, got %v", err)
	}
}

// countingWriter records how often Write was called.
type countingWriter struct {
	mutex  sync.Mutex
	writes int
	buf    bytes.Buffer
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	cw.writes++
	return cw.buf.Write(p)
}

func (cw *countingWriter) state() (int, []byte) {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	return cw.writes, append([]byte{}, cw.buf.Bytes()...)
}

func TestSwitchReaderWriterBurst(t *testing.T) {
	const rounds = 5

	cw := &countingWriter{}
	s := &SwitchReaderWriter{
		lifecycle: newLifecycle(),
		out:       bufio.NewWriter(cw),
	}

	feeds := testFeeds()
	for i := 0; i < rounds; i++ {
		for _, f := range feeds {
			s.outChan <- f
		}
	}
	go s.handleOut()

	expected := bytes.Repeat(encodeFeeds(t, feeds...), rounds)

	for deadline := time.Now().Add(time.Second); ; {
		writes, data := cw.state()
		if bytes.Equal(data, expected) {
			if writes != 1 {
				t.Fatalf("queued feeds took %d writes instead of one", writes)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %x, got %x", expected, data)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

// echoServer answers each ControlFeed with itself, using a SwitchWebSocket.
func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()

		s := NewSwitchWebSocket(conn)
		defer s.Close()

		incoming, outgoing, errChan := s.Exchange()
		for {
			select {
			case f := <-incoming:
				outgoing <- f
			case <-errChan:
				return
			}
		}
	}))
}

// rawServer sends the given WebSocket messages and waits for the client to hang up.
func rawServer(t *testing.T, messageType int, messages ...[]byte) *httptest.Server {
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()

		for _, msg := range messages {
			if err := conn.WriteMessage(messageType, msg); err != nil {
				return
			}
		}
		_, _, _ = conn.ReadMessage()
	}))
}

func dialSwitch(t *testing.T, srv *httptest.Server) (*SwitchWebSocket, *websocket.Conn) {
	conn, _, err := websocket.DefaultDialer.Dial(websocketURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewSwitchWebSocket(conn), conn
}

func TestSwitchWebSocket(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	s, conn := dialSwitch(t, srv)
	defer conn.Close()

	checkExchange(t, s, 100)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSwitchWebSocketOneFeedPerMessage(t *testing.T) {
	f := testFeeds()[0]
	valid := encodeFeeds(t, f)

	tests := []struct {
		name     string
		messages [][]byte
		feeds    int
	}{
		{"trailing invalid id", [][]byte{append(append([]byte{}, valid...), 0x00, 0x00, 0x00, 0x09, 0xFF, 0xFF)}, 0},
		{"two feeds", [][]byte{encodeFeeds(t, f, f)}, 0},
		{"valid then trailing octet", [][]byte{valid, append(append([]byte{}, valid...), 0x00)}, 1},
		{"empty message", [][]byte{{}}, 0},
		{"cut off", [][]byte{valid[:len(valid)-1]}, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv := rawServer(t, websocket.BinaryMessage, test.messages...)
			defer srv.Close()

			s, conn := dialSwitch(t, srv)
			defer conn.Close()

			if err := expectErr(t, s, test.feeds); !errors.Is(err, ErrFraming) {
				t.Fatalf("expected ErrFraming, got %v", err)
			}
		})
	}
}

func TestSwitchWebSocketTextMessage(t *testing.T) {
	srv := rawServer(t, websocket.TextMessage, []byte("hello"))
	defer srv.Close()

	s, conn := dialSwitch(t, srv)
	defer conn.Close()

	if err := expectErr(t, s, 0); !errors.Is(err, ErrFraming) {
		t.Fatalf("expected ErrFraming for a text message, got %v", err)
	}
}

func TestSwitchWebSocketHandlersReturn(t *testing.T) {
	const agents = 10

	srv := echoServer(t)
	defer srv.Close()

	before := switchHandlers()

	for i := 0; i < agents; i++ {
		s, conn := dialSwitch(t, srv)
		checkExchange(t, s, 1)

		_ = s.Close()
		_ = conn.Close()
	}

	// Both the clients' and the echo server's handlers must have returned.
	for deadline := time.Now().Add(2 * time.Second); switchHandlers() > before; {
		if time.Now().After(deadline) {
			t.Fatalf("%d SwitchWebSocket handlers are still running", switchHandlers()-before)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
