/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package upload

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// DestinationPath returns where a staged file named name lands in the tree:
// <prefix>/<YYYY-MM-DD>/<name>, keeping name's directories.
func DestinationPath(prefix string, day time.Time, name string) string {
	return path.Join(prefix, day.UTC().Format(time.DateOnly), name)
}

// CommitMessage decorates the user's message for upload commits.
func CommitMessage(msg string) string {
	return "Auto upload - " + msg
}

// CommitURL returns the browsable page of commit sha in owner/repo.
func CommitURL(webURL, owner, repo, sha string) string {
	return strings.TrimSuffix(webURL, "/") + "/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/commit/" + sha
}
