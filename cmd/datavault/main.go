package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/app"
	"github.com/dharsanguruparan/datavault/internal/config"
	"github.com/dharsanguruparan/datavault/internal/database"
	"github.com/dharsanguruparan/datavault/internal/logger"
	"github.com/dharsanguruparan/datavault/internal/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(&cli{})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "datavault: %v\n", err)
		os.Exit(1)
	}
}

// cli carries state shared by subcommands. The app is built lazily so
// commands like migrate do not need every backend reachable.
type cli struct {
	cfg       *config.Config
	log       *zap.Logger
	app       *app.App
	user      string
	adminMode bool
}

func newRootCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datavault",
		Short: "DataVault ingestion CLI",
		Long: `datavault drives the ingestion core directly: upload, update, download and delete
files, manage feeds and listeners, and submit files to listeners.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.IsDevelopment())
			if err != nil {
				return err
			}
			c.cfg, c.log = cfg, log
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.log != nil {
				defer func() { _ = c.log.Sync() }()
			}
			if c.app != nil {
				return c.app.Close()
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&c.user, "user", "u", os.Getenv("DATAVAULT_USER"), "Email of the acting user")
	cmd.PersistentFlags().BoolVar(&c.adminMode, "admin-mode", false, "Act with admin mode enabled")
	cmd.AddCommand(
		newMigrateCmd(c),
		newUploadCmd(c),
		newUpdateCmd(c),
		newDeleteCmd(c),
		newVersionsCmd(c),
		newDownloadCmd(c),
		newSubmitCmd(c),
		newFeedCmd(c),
		newListenerCmd(c),
		newUserCmd(c),
		newGroupCmd(c),
	)
	return cmd
}

// services connects to every backend on first use.
func (c *cli) services(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := app.New(ctx, c.log, c.cfg)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

// actor resolves --user into an Actor. The admin flag comes from the stored
// user record and --admin-mode only counts for admins.
func (c *cli) actor(ctx context.Context, a *app.App) (model.Actor, error) {
	if c.user == "" {
		return model.Actor{}, fmt.Errorf("--user is required")
	}
	u, err := a.Store.GetUser(ctx, c.user)
	if err != nil {
		return model.Actor{}, fmt.Errorf("load user %s: %w", c.user, err)
	}
	return actorFor(u, c.adminMode), nil
}

func actorFor(u *model.User, adminMode bool) model.Actor {
	return model.Actor{Email: u.Email, Admin: u.Admin, AdminMode: u.Admin && adminMode}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return database.Migrate(c.cfg.DatabaseURL, c.log)
		},
	}
}
