/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"chainguard.dev/autogit/objectstore"
	"github.com/google/go-github/v84/github"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"
)

const defaultBlobCacheSize = 4096

// Option configures NewFactory.
type Option func(*config)

type config struct {
	baseURL       string
	uploadURL     string
	httpClient    *http.Client
	blobCacheSize int
	userAgent     string
}

// WithBaseURL points the client at a GitHub Enterprise Server API, for
// example https://github.example.com/api/v3/.
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = baseURL
		c.uploadURL = baseURL
	}
}

// WithHTTPClient sets the transport the OAuth2 client wraps.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithBlobCacheSize sets how many uploaded blob ids are remembered across
// jobs. 0 disables the cache.
func WithBlobCacheSize(n int) Option {
	return func(c *config) { c.blobCacheSize = n }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *config) { c.userAgent = ua }
}

// NewFactory returns an objectstore.Factory creating GitHub-backed stores
// authenticated with the caller's token source.
func NewFactory(opts ...Option) (objectstore.Factory, error) {
	cfg := &config{blobCacheSize: defaultBlobCacheSize, userAgent: "autogit"}
	for _, opt := range opts {
		opt(cfg)
	}

	var blobs *lru.Cache[string, string]
	if cfg.blobCacheSize > 0 {
		var err error
		if blobs, err = lru.New[string, string](cfg.blobCacheSize); err != nil {
			return nil, fmt.Errorf("creating blob cache: %w", err)
		}
	}

	return func(ctx context.Context, ts oauth2.TokenSource, owner, repo string) (objectstore.Store, error) {
		if ts == nil {
			return nil, errors.New("github credentials are required")
		}
		if cfg.httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.httpClient)
		}
		client := github.NewClient(oauth2.NewClient(ctx, ts))
		if cfg.baseURL != "" {
			var err error
			if client, err = client.WithEnterpriseURLs(cfg.baseURL, cfg.uploadURL); err != nil {
				return nil, fmt.Errorf("configuring enterprise urls: %w", err)
			}
		}
		client.UserAgent = cfg.userAgent
		return New(client, owner, repo, blobs), nil
	}, nil
}
