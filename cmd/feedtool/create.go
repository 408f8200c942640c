// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/tunnelfeed/agentproto/pkg/feed"
)

// createFeed for the "create" CLI option.
func createFeed(args []string) {
	if len(args) != 2 {
		printUsage()
	}

	var (
		input   = args[0]
		outName = args[1]

		err error
		cf  feed.ControlFeed
	)

	if cf, err = parseFeedFile(input); err != nil {
		printFatal(err, "Parsing feed file errored")
	}

	if ncf, ok := cf.(*feed.NewClientFeed); ok {
		if err := ncf.Client.CheckValid(); err != nil {
			log.WithError(err).WithField("file", input).Warn("NewClient looks malformed, writing it anyway")
		}
	}

	if err = writeFeedFile(outName, cf); err != nil {
		printFatal(err, "Writing ControlFeed errored")
	}

	log.WithFields(log.Fields{
		"feed": cf,
		"file": outName,
	}).Info("Created ControlFeed")
}

// writeFeedFile writes an encoded ControlFeed to a new file. On failure, no partial file is left behind.
func writeFeedFile(name string, cf feed.ControlFeed) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return
	}

	defer func() {
		if err != nil {
			_ = f.Close()
			if rmErr := os.Remove(name); rmErr != nil {
				log.WithError(rmErr).WithField("file", name).Warn("Removing partial file errored")
			}
		}
	}()

	if err = feed.WriteFeed(f, cf); err != nil {
		return
	}
	return f.Close()
}
