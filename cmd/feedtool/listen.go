// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/tunnelfeed/agentproto/pkg/feed/exchange"
)

// startListen for the "listen" CLI option.
func startListen(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	websocketAddr := args[0]

	conn, _, err := websocket.DefaultDialer.Dial(websocketAddr, nil)
	if err != nil {
		printFatal(err, "Dialing WebSocket errored")
	}

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	sw := exchange.NewSwitchWebSocket(conn)
	incoming, _, errChan := sw.Exchange()

	log.WithField("websocket", websocketAddr).Info("Listening for ControlFeeds")

	defer func() {
		_ = sw.Close()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		select {
		case <-closeChan:
			log.Info("Received interrupt signal")
			return

		case cf := <-incoming:
			log.WithFields(log.Fields{
				"type": cf.FeedID(),
				"feed": cf,
			}).Info("Received ControlFeed")

		case err := <-errChan:
			log.WithError(err).Error("Receiving ControlFeeds errored")
			return
		}
	}
}
