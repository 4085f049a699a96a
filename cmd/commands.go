package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/watcher"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and task workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	var regenerate bool
	cmd := &cobra.Command{
		Use:   "check <blog-id>",
		Short: "Generates or refines the blog's scraping schema",
		Long: `Runs schema refinement for one blog. Blogs that already have an accepted
schema are returned unchanged unless --regenerate is set; exhausted blogs are
reported without spending more attempts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBlogID(args[0])
			if err != nil {
				return err
			}
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := app.Ops().CheckBlog(cmd.Context(), id, watcher.CheckOptions{Regenerate: regenerate})
			if err != nil {
				return fmt.Errorf("check blog %d: %w", id, err)
			}
			app.Logger().Info("check finished", zap.Int64("blog_id", id), zap.String("state", string(res.State)))
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "re-run refinement even when a schema is accepted")
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <blog-id>",
		Short: "Finds new posts on the blog and stores them with metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBlogID(args[0])
			if err != nil {
				return err
			}
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := app.Ops().DiscoverAndExtract(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("discover blog %d: %w", id, err)
			}
			return printJSON(cmd, res)
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Checks and discovers every registered blog once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := app.Ops().RunAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("run all: %w", err)
			}
			return printJSON(cmd, report)
		},
	}
}

func newBlogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blog",
		Short: "Manages registered blogs",
	}

	var name string
	add := &cobra.Command{
		Use:   "add <listing-url>",
		Short: "Registers a blog by its listing page URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, err := app.Ops().AddBlog(cmd.Context(), name, args[0])
			if err != nil {
				return fmt.Errorf("add blog: %w", err)
			}
			return printJSON(cmd, map[string]any{"id": p.ID, "name": p.Name, "url": p.URL})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name (defaults to the host)")

	reset := &cobra.Command{
		Use:   "reset <blog-id>",
		Short: "Restores the refinement budget of an exhausted blog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBlogID(args[0])
			if err != nil {
				return err
			}
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.Ops().ResetAttempts(cmd.Context(), id); err != nil {
				return fmt.Errorf("reset blog %d: %w", id, err)
			}
			return printJSON(cmd, map[string]any{"id": id, "refinement_attempts": 0})
		},
	}

	cmd.AddCommand(add, reset)
	return cmd
}

func newPostsCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Lists posts discovered within a recent window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			window := since
			if window == 0 {
				if cfg := resolveConfig(cmd.Context()); cfg != nil {
					window = cfg.DigestWindow()
				}
			}
			posts, err := app.Ops().PostsDiscoveredSince(cmd.Context(), window)
			if err != nil {
				return fmt.Errorf("list posts: %w", err)
			}
			return printJSON(cmd, posts)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "look-back window such as 6h (defaults to digest.window_hours)")
	return cmd
}

func newReprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <post-url>",
		Short: "Re-extracts summary, reading time, density and topics for a stored post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			post, err := app.Ops().ReprocessPost(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("reprocess %s: %w", args[0], err)
			}
			return printJSON(cmd, post)
		},
	}
}

func parseBlogID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("blog id %q must be a positive integer", raw)
	}
	return id, nil
}
