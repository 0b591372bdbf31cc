/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements autogit, a command line tool that uploads local
// files to a GitHub repository as a single commit and keeps a history of
// every upload.
//
// Configuration comes from the environment:
//   - GITHUB_TOKEN: token used for uploads to GitHub
//   - AUTOGIT_STORE: "github" (default) or "local" for bare repositories on disk
//   - AUTOGIT_DB: directory of the task database
//   - AUTOGIT_LOCAL_ROOT: directory holding local repositories
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := &cli{}
	err := newRootCmd(c).ExecuteContext(ctx)
	if cerr := c.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("closing task database: %w", cerr))
	}
	if err != nil {
		clog.FatalContextf(ctx, "autogit: %v", err)
	}
}
