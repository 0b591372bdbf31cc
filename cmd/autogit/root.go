/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chainguard.dev/autogit/staging"
	"chainguard.dev/autogit/tasks"
	"chainguard.dev/autogit/uploader"
	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
)

// cli carries the state opened by the root command to its subcommands.
type cli struct {
	app *app
}

// Close releases what the last command opened.
func (c *cli) Close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "autogit",
		Short: "Upload local files to a GitHub repository as one commit",
		Long: `autogit uploads a batch of local files or a folder to a repository as a
single commit under autogit-uploads/<date>/, and keeps a history of every
upload with its outcome.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			ctx = clog.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			c.app, err = openApp(ctx, cfg)
			return err
		},
	}

	root.AddCommand(
		newUploadCmd(c),
		newStatusCmd(c),
		newListCmd(c),
		newEditCmd(c),
		newDeleteCmd(c),
	)
	return root
}

func splitRepo(s string) (string, string, error) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("repository must be OWNER/REPO, got %q", s)
	}
	return owner, repo, nil
}

func newUploadCmd(c *cli) *cobra.Command {
	var (
		title, description, notes string
		branch, message           string
	)
	cmd := &cobra.Command{
		Use:   "upload OWNER/REPO PATH...",
		Short: "Upload files or a folder as one commit",
		Long: `Upload files as one commit. A single directory argument is uploaded as a
folder: its structure is preserved and its name is recorded on the task.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			a := c.app

			owner, repo, err := splitRepo(args[0])
			if err != nil {
				return err
			}
			creds, err := a.credentials()
			if err != nil {
				return err
			}

			area, err := staging.NewArea("")
			if err != nil {
				return err
			}
			defer func() {
				if cerr := area.Close(); cerr != nil {
					err = errors.Join(err, fmt.Errorf("removing staging area: %w", cerr))
				}
			}()

			var (
				files  []staging.File
				folder string
			)
			for _, p := range args[1:] {
				fi, err := os.Stat(p)
				if err != nil {
					return err
				}
				if fi.IsDir() {
					staged, err := area.StageDir(ctx, p)
					if err != nil {
						return err
					}
					files = append(files, staged...)
					if len(args) == 2 {
						folder = filepath.Base(filepath.Clean(p))
					}
					continue
				}
				f, err := area.StagePath(ctx, filepath.Base(p), p)
				if err != nil {
					return err
				}
				files = append(files, f)
			}

			svc, err := a.newService(ctx)
			if err != nil {
				return err
			}
			// The job must record its outcome before the staging area and
			// the task database are closed, even when interrupted.
			defer func() {
				err = errors.Join(err, drain(ctx, svc, shutdownGrace))
			}()
			id, err := svc.Submit(ctx, uploader.Submission{
				Title:         title,
				Description:   description,
				Notes:         notes,
				Owner:         owner,
				Repo:          repo,
				Branch:        branch,
				Folder:        folder,
				Files:         files,
				CommitMessage: message,
				Credentials:   creds,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s created, uploading %d file(s) to %s/%s\n", id, len(files), owner, repo)

			task, err := svc.Wait(ctx, id)
			if err != nil {
				clog.WarnContextf(ctx, "Interrupted, waiting up to %v for task %s to finish", shutdownGrace, id)
				return err
			}
			printTask(cmd.OutOrStdout(), task)
			if task.Status == tasks.StatusFailed {
				return fmt.Errorf("upload %s failed", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Task title, also the default commit message")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().StringVarP(&notes, "notes", "n", "", "Free-form notes")
	cmd.Flags().StringVarP(&branch, "branch", "b", uploader.DefaultBranch, "Branch to commit to")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message (defaults to the title)")
	cmd.MarkFlagRequired("title")
	return cmd
}

// shutdownGrace bounds how long an interrupted upload may keep running
// before it is cancelled.
const shutdownGrace = 10 * time.Second

// drain waits for the service's jobs, cancelling them once grace has passed.
func drain(ctx context.Context, svc *uploader.Service, grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		return fmt.Errorf("waiting for running uploads: %w", err)
	}
	return nil
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show an upload task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := c.app.tracker.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), task)
			return nil
		},
	}
}

func parseDay(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", flag, err)
	}
	return t, nil
}

func newListCmd(c *cli) *cobra.Command {
	var (
		repo, status, since, until string
		limit                      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upload tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := tasks.Filter{Repository: repo, Status: tasks.Status(status), Limit: limit}
			if status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			var err error
			if f.Since, err = parseDay("since", since); err != nil {
				return err
			}
			if f.Until, err = parseDay("until", until); err != nil {
				return err
			}
			if !f.Until.IsZero() {
				// Include the whole day.
				f.Until = f.Until.AddDate(0, 0, 1).Add(-time.Nanosecond)
			}

			list, err := c.app.tracker.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			printList(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "Only tasks for OWNER/REPO")
	cmd.Flags().StringVar(&status, "status", "", "Only tasks with this status (pending, uploading, success, failed)")
	cmd.Flags().StringVar(&since, "since", "", "Only tasks created on or after YYYY-MM-DD")
	cmd.Flags().StringVar(&until, "until", "", "Only tasks created on or before YYYY-MM-DD")
	cmd.Flags().IntVar(&limit, "limit", tasks.DefaultListLimit, "Maximum number of tasks")
	return cmd
}

func newEditCmd(c *cli) *cobra.Command {
	var title, description, notes string
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Edit the title, description or notes of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d tasks.Details
			if cmd.Flags().Changed("title") {
				d.Title = &title
			}
			if cmd.Flags().Changed("description") {
				d.Description = &description
			}
			if cmd.Flags().Changed("notes") {
				d.Notes = &notes
			}
			if d == (tasks.Details{}) {
				return errors.New("nothing to edit: set --title, --description or --notes")
			}

			task, err := c.app.tracker.EditDetails(cmd.Context(), args[0], d)
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), task)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	cmd.Flags().StringVarP(&notes, "notes", "n", "", "New notes")
	return cmd
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a task from the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.tracker.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s deleted\n", args[0])
			return nil
		},
	}
}
