// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// feedtool is a command line tool to work with control feeds.
package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// printUsage of feedtool and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s create|show|serve|listen:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s create feed-file output-file\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Creates a new ControlFeed, described by the TOML feed-file, and writes its\n")
	_, _ = fmt.Fprintf(os.Stderr, "  binary form to output-file. A feed-file's kind is either new-client or response,\n")
	_, _ = fmt.Fprintf(os.Stderr, "  the latter of the response.type %s.\n\n", strings.Join(responseTypes, ", "))

	_, _ = fmt.Fprintf(os.Stderr, "%s show -|filename\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Prints a human-readable version of every ControlFeed in the given file or stdin (-).\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s serve config-file\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Serves ControlFeeds to agents connecting to the /feed WebSocket. Each TOML feed-file\n")
	_, _ = fmt.Fprintf(os.Stderr, "  dropped into the configured spool directory will be sent to all connected agents.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s listen websocket\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Connects to a feedtool server's websocket, e.g., ws://localhost:8080/feed,\n")
	_, _ = fmt.Fprintf(os.Stderr, "  and prints each received ControlFeed.\n\n")

	os.Exit(1)
}

// printFatal logs the error with its message and exits afterwards.
func printFatal(err error, msg string) {
	log.WithError(err).Fatal(msg)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
	}

	switch os.Args[1] {
	case "create":
		createFeed(os.Args[2:])

	case "show":
		showFeeds(os.Args[2:])

	case "serve":
		startServe(os.Args[2:])

	case "listen":
		startListen(os.Args[2:])

	default:
		printUsage()
	}
}
