package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/config"
	"github.com/JakeFAU/blogwatch/internal/server"
	"github.com/JakeFAU/blogwatch/internal/watcher"
)

// Operations is the watcher surface the commands drive.
type Operations interface {
	CheckBlog(ctx context.Context, blogID int64, opts watcher.CheckOptions) (watcher.CheckResult, error)
	DiscoverAndExtract(ctx context.Context, blogID int64) (watcher.DiscoverResult, error)
	RunAll(ctx context.Context) (watcher.RunReport, error)
	AddBlog(ctx context.Context, name, rawURL string) (blog.Profile, error)
	ResetAttempts(ctx context.Context, blogID int64) error
	PostsDiscoveredSince(ctx context.Context, window time.Duration) ([]blog.Post, error)
	ReprocessPost(ctx context.Context, postURL string) (blog.Post, error)
}

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Ops() Operations
}

type serverApp struct {
	*server.App
}

func (a serverApp) Ops() Operations { return a.Service() }

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{app}, nil
}

type appKeyType string

const (
	appKey appKeyType = "app"
	cfgKey appKeyType = "config"
)

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "blogwatch",
		Short: "Watches blogs for new posts and enriches them with summaries and topics.",
		Long: `blogwatch learns a scraping schema for each registered blog, uses it to
discover new posts on the blog's listing page, and stores each post with an
oracle-generated summary, reading time, technical density and topics.`,
		SilenceUsage: true,

		// Runs before every subcommand so each gets a fully built App.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			ctx = context.WithValue(ctx, cfgKey, &cfg)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(cmd.Context())
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newServeCmd(),
		newCheckCmd(),
		newDiscoverCmd(),
		newRunCmd(),
		newBlogCmd(),
		newPostsCmd(),
		newReprocessCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(cfgKey).(*config.Config)
	return cfg
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
