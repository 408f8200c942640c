// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"io"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunnelfeed/agentproto/pkg/feed"
	"github.com/tunnelfeed/agentproto/pkg/feed/exchange"
)

func TestFeedServerPushFile(t *testing.T) {
	spool := t.TempDir()
	fs := newFeedServer(spool)

	srv := httptest.NewServer(fs.router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/feed", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sw := exchange.NewSwitchWebSocket(conn)
	incoming, _, errChan := sw.Exchange()

	for deadline := time.Now().Add(time.Second); fs.agentCount() != 1; {
		if time.Now().After(deadline) {
			t.Fatal("agent was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	name := filepath.Join(spool, "feed.toml")
	if err := os.WriteFile(name, []byte(newClientToml), 0644); err != nil {
		t.Fatal(err)
	}
	fs.pushFile(name)

	expected, err := parseFeed(newClientToml)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errChan:
		t.Fatal(err)

	case cf := <-incoming:
		if !feed.Equal(expected, cf) {
			t.Fatalf("expected %v, got %v", expected, cf)
		}

	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	if err := sw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPrintFeeds(t *testing.T) {
	cf, err := parseFeed(newClientToml)
	if err != nil {
		t.Fatal(err)
	}

	var data bytes.Buffer
	for i := 0; i < 2; i++ {
		if err := feed.WriteFeed(&data, cf); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	if err := printFeeds(&out, &data); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", out.String())
	}
	for _, line := range lines {
		if !strings.Contains(line, "token: deadbeef") {
			t.Fatalf("line %q misses the hex token", line)
		}
	}

	if err := printFeeds(&out, bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x02, 0x04})); err == nil {
		t.Fatal("truncated ControlFeed was printed")
	}
}

func TestPrintFeedsCutOff(t *testing.T) {
	cf, err := parseFeed(newClientToml)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := feed.WriteFeed(&buf, cf); err != nil {
		t.Fatal(err)
	}
	whole := buf.Bytes()

	// Cut directly after the second feed's id, connect address and peer address.
	for _, cut := range []int{4, 11, 18} {
		data := append(append([]byte{}, whole...), whole[:cut]...)

		var out bytes.Buffer
		if err := printFeeds(&out, bytes.NewReader(data)); err != io.ErrUnexpectedEOF {
			t.Fatalf("cut at %d: expected io.ErrUnexpectedEOF, got %v", cut, err)
		}
		if lines := strings.Count(out.String(), "\n"); lines != 1 {
			t.Fatalf("cut at %d: expected one printed feed, got %d", cut, lines)
		}
	}
}

func TestWriteFeedFile(t *testing.T) {
	dir := t.TempDir()

	cf, err := parseFeed(newClientToml)
	if err != nil {
		t.Fatal(err)
	}

	name := filepath.Join(dir, "valid.bin")
	if err := writeFeedFile(name, cf); err != nil {
		t.Fatal(err)
	}
	if data, err := os.ReadFile(name); err != nil {
		t.Fatal(err)
	} else if read, err := feed.ReadFeed(bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	} else if !feed.Equal(cf, read) {
		t.Fatalf("expected %v, got %v", cf, read)
	}

	// The peer address is missing, so writing fails after the connect address.
	broken := cf.(*feed.NewClientFeed).Client
	broken.PeerAddr = netip.AddrPort{}

	name = filepath.Join(dir, "broken.bin")
	if err := writeFeedFile(name, feed.NewNewClient(broken)); err == nil {
		t.Fatal("NewClient without peer address was written")
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Fatalf("partial file was left behind: %v", err)
	}
}

// switchHandlers counts the goroutines currently running a SwitchWebSocket handler.
func switchHandlers() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Count(string(buf[:n]), "(*SwitchWebSocket).handle")
}

func TestFeedServerAgentsDisconnect(t *testing.T) {
	const agents = 10

	fs := newFeedServer(t.TempDir())

	srv := httptest.NewServer(fs.router())
	defer srv.Close()

	before := switchHandlers()

	for i := 0; i < agents; i++ {
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/feed", nil)
		if err != nil {
			t.Fatal(err)
		}

		for deadline := time.Now().Add(time.Second); fs.agentCount() != 1; {
			if time.Now().After(deadline) {
				t.Fatal("agent was not registered")
			}
			time.Sleep(10 * time.Millisecond)
		}

		_ = conn.Close()
	}

	for deadline := time.Now().Add(2 * time.Second); fs.agentCount() != 0 || switchHandlers() > before; {
		if time.Now().After(deadline) {
			t.Fatalf("%d agents registered, %d SwitchWebSocket handlers still running",
				fs.agentCount(), switchHandlers()-before)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
