// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tunnelfeed/agentproto/pkg/feed"
	"github.com/tunnelfeed/agentproto/pkg/feed/exchange"
)

// feedServer pushes ControlFeeds from a spool directory to all connected agents.
type feedServer struct {
	spool      string
	knownFiles sync.Map
	upgrader   websocket.Upgrader

	agentsMutex sync.Mutex
	agents      map[*websocket.Conn]chan<- feed.ControlFeed
}

func newFeedServer(spool string) *feedServer {
	return &feedServer{
		spool:  spool,
		agents: make(map[*websocket.Conn]chan<- feed.ControlFeed),
	}
}

// startServe for the "serve" CLI option.
func startServe(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	conf, err := parseServeConfig(args[0])
	if err != nil {
		printFatal(err, "Parsing configuration errored")
	}

	fs := newFeedServer(conf.Serve.Spool)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		printFatal(err, "Starting file watcher errored")
	}
	if err = watcher.Add(fs.spool); err != nil {
		printFatal(err, "Adding directory to file watcher errored")
	}

	httpServer := &http.Server{
		Addr:    conf.Serve.Listen,
		Handler: fs.router(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			printFatal(err, "HTTP server errored")
		}
	}()

	log.WithFields(log.Fields{
		"listen": conf.Serve.Listen,
		"spool":  fs.spool,
	}).Info("Serving ControlFeeds")

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	fs.watch(watcher, closeChan)

	_ = watcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Shutting down HTTP server errored")
	}
	fs.closeAgents()
}

func (fs *feedServer) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/feed", fs.handleAgent)
	return r
}

// handleAgent upgrades an HTTP request to a WebSocket and registers the agent until its connection breaks.
func (fs *feedServer) handleAgent(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithField("remote", r.RemoteAddr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	logger := log.WithField("remote", conn.RemoteAddr().String())

	sw := exchange.NewSwitchWebSocket(conn)
	incoming, outgoing, errChan := sw.Exchange()

	fs.agentsMutex.Lock()
	fs.agents[conn] = outgoing
	fs.agentsMutex.Unlock()

	logger.Info("Agent connected")

	defer func() {
		fs.agentsMutex.Lock()
		delete(fs.agents, conn)
		fs.agentsMutex.Unlock()

		_ = sw.Close()
		_ = conn.Close()
	}()

	for {
		select {
		case cf := <-incoming:
			logger.WithField("feed", cf).Warn("Ignoring ControlFeed sent by an agent")

		case err := <-errChan:
			logger.WithError(err).Info("Agent disconnected")
			return
		}
	}
}

// agentCount returns the number of currently connected agents.
func (fs *feedServer) agentCount() int {
	fs.agentsMutex.Lock()
	defer fs.agentsMutex.Unlock()

	return len(fs.agents)
}

// broadcast a ControlFeed to all connected agents. Agents whose queue is full miss this ControlFeed.
func (fs *feedServer) broadcast(cf feed.ControlFeed) {
	fs.agentsMutex.Lock()
	defer fs.agentsMutex.Unlock()

	for conn, outgoing := range fs.agents {
		select {
		case outgoing <- cf:
		default:
			log.WithFields(log.Fields{
				"remote": conn.RemoteAddr().String(),
				"feed":   cf,
			}).Warn("Agent's queue is full, dropping ControlFeed")
		}
	}
}

func (fs *feedServer) closeAgents() {
	fs.agentsMutex.Lock()
	defer fs.agentsMutex.Unlock()

	for conn := range fs.agents {
		_ = conn.Close()
	}
}

// watch the spool directory until the closeChan fires or the watcher fails.
func (fs *feedServer) watch(watcher *fsnotify.Watcher, closeChan <-chan os.Signal) {
	for {
		select {
		case <-closeChan:
			log.Info("Received interrupt signal")
			return

		case e, ok := <-watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if e.Op&fsnotify.Create == 0 || filepath.Ext(e.Name) != ".toml" {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			if _, known := fs.knownFiles.LoadOrStore(e.Name, struct{}{}); known {
				log.WithField("file", e.Name).Debug("Skipping file; already known")
				continue
			}

			go fs.pushFile(e.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
			return
		}
	}
}

// pushFile parses a feed file and broadcasts it. As the file might still be written to, parsing is retried.
func (fs *feedServer) pushFile(name string) {
	for i := 0; i < 5; i++ {
		if cf, err := parseFeedFile(name); err != nil {
			log.WithError(err).WithField("file", name).Warn("Parsing feed file errored, retrying..")
		} else {
			log.WithFields(log.Fields{
				"file":   name,
				"feed":   cf,
				"agents": fs.agentCount(),
			}).Info("Broadcasting ControlFeed")
			fs.broadcast(cf)
			return
		}

		time.Sleep(time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond)
	}

	log.WithField("file", name).Error("Failed to process file, giving up.")
}
