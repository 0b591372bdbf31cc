/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"fmt"
	"io"
	"time"

	"chainguard.dev/autogit/tasks"
	"github.com/fatih/color"
)

var statusColors = map[tasks.Status]*color.Color{
	tasks.StatusPending:   color.New(color.FgBlue),
	tasks.StatusUploading: color.New(color.FgYellow),
	tasks.StatusSuccess:   color.New(color.FgGreen),
	tasks.StatusFailed:    color.New(color.FgRed),
}

func statusText(s tasks.Status) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func printTask(w io.Writer, t *tasks.Task) {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", bold("Task"), t.ID)
	fmt.Fprintf(w, "  Title:       %s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", t.Description)
	}
	if t.Notes != "" {
		fmt.Fprintf(w, "  Notes:       %s\n", t.Notes)
	}
	fmt.Fprintf(w, "  Repository:  %s (%s)\n", t.Repository.FullName(), t.Repository.Branch)
	fmt.Fprintf(w, "  Status:      %s\n", statusText(t.Status))
	fmt.Fprintf(w, "  Created:     %s\n", t.CreatedAt.Local().Format(time.DateTime))
	if !t.CompletedAt.IsZero() {
		fmt.Fprintf(w, "  Completed:   %s\n", t.CompletedAt.Local().Format(time.DateTime))
	}
	if t.Result != nil {
		fmt.Fprintf(w, "  Commit:      %s\n", t.Result.CommitURL)
	}
	if t.Error != "" {
		fmt.Fprintf(w, "  Error:       %s\n", color.RedString(t.Error))
	}
	fmt.Fprintf(w, "  Files:       %d\n", len(t.Files))
	for _, f := range t.Files {
		fmt.Fprintf(w, "    %s (%d bytes)\n", f.Name, f.Size)
	}
}

func printList(w io.Writer, list []*tasks.Task) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No tasks found")
		return
	}
	for _, t := range list {
		fmt.Fprintf(w, "%s  %-9s  %s  %s  %s\n",
			t.CreatedAt.Local().Format(time.DateTime),
			statusText(t.Status),
			t.ID,
			t.Repository.FullName(),
			t.Title)
	}
}
