/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package upload

import (
	"time"

	"chainguard.dev/autogit/retry"
)

const (
	// DefaultPathPrefix is the directory uploads land under.
	DefaultPathPrefix = "autogit-uploads"
	// DefaultWebURL is the web root commit links are built from.
	DefaultWebURL = "https://github.com"

	defaultConcurrency     = 8
	defaultConflictRetries = 2
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency bounds how many blobs are uploaded at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) { p.concurrency = n }
}

// WithPathPrefix sets the directory uploads are placed under.
func WithPathPrefix(prefix string) Option {
	return func(p *Pipeline) { p.prefix = prefix }
}

// WithWebURL sets the web root used for commit links, e.g. a GitHub
// Enterprise host.
func WithWebURL(u string) Option {
	return func(p *Pipeline) { p.webURL = u }
}

// WithRetryConfig sets the backoff policy for transient store errors.
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Pipeline) { p.retry = cfg }
}

// WithConflictRetries sets how many times a run rebuilds its commit after
// losing a race on the branch ref. 0 fails on the first conflict.
func WithConflictRetries(n int) Option {
	return func(p *Pipeline) { p.conflictRetries = n }
}

// WithClock overrides the time source used for the dated upload directory.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}
