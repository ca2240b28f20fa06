// Copyright 2025 The WordServe Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package main implements the titleserve fuzzy title search server and CLI.

titleserve keeps an in-memory index of page titles aggregated from several
namespaces of a title database and answers typo tolerant searches over it.
Results stream in progressively and are ranked by edit distance, title
length and recency. It runs as a MessagePack IPC server for editors and
launchers, or as an interactive CLI for trying queries.

# Usage

Start the server over the namespaces listed in the config:

	titleserve

Load explicit namespaces, use another database and enable debug logs:

	titleserve --ns notes --ns wiki --db /path/to/titles.db -d

Try queries interactively:

	titleserve cli --ns notes --limit 10

Fill the database from a JSON dump of links:

	titleserve import links.json --ns notes

The dump is an array of objects with title, namespace, updated, links and
icon fields. Objects without a namespace go to the --ns namespace.

# Configuration

Runtime configuration lives in a TOML file created with defaults when
missing:

	[search]
	chunk_size = 1000
	progress_flush_interval_ms = 500
	max_results = 64

	[index]
	db_path = "titles.db"
	namespaces = []

	[server]
	max_query_len = 256

	[cli]
	default_limit = 10

A relative db_path is resolved against the per-user data directory. The
server watches the config file and applies search settings to subsequent
searches without restart.

# IPC Protocol

See package server for the message types. Requests look like:

	{"id": "q1", "action": "query", "q": "grph thry"}
*/
package main

import (
	"os"

	"github.com/charmbracelet/log"
)

const (
	Version = "0.1.0-beta"
	AppName = "titleserve"
	gh      = "https://github.com/bastiangx/titleserve"
)

// main only hands over to the command tree.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
