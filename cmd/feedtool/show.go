// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/tunnelfeed/agentproto/pkg/feed"
)

// showFeeds for the "show" CLI option.
func showFeeds(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	var (
		input = args[0]

		err error
		f   io.ReadCloser
	)

	if input == "-" {
		f = os.Stdin
	} else if f, err = os.Open(input); err != nil {
		printFatal(err, "Opening file for reading errored")
	}

	if err = printFeeds(os.Stdout, bufio.NewReader(f)); err != nil {
		printFatal(err, "Reading ControlFeed errored")
	}
	if err = f.Close(); err != nil {
		printFatal(err, "Closing file errored")
	}
}

// printFeeds writes each ControlFeed from r in its human-readable form until r is exhausted.
func printFeeds(w io.Writer, r io.Reader) error {
	for {
		cf, err := feed.ReadFeed(r)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		if _, err := fmt.Fprintln(w, cf); err != nil {
			return err
		}
	}
}
