package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/trix-server/internal/app"
	"github.com/vovakirdan/trix-server/internal/config"
	"github.com/vovakirdan/trix-server/internal/log"
	"github.com/vovakirdan/trix-server/internal/store/sqlite"
)

type options struct {
	configPath string
	addr       string
	dbPath     string
	logLevel   string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "trix-server",
		Short:         "Two-party chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "HTTP listen address")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "List registered users and their conversation counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listUsers(cmd.Context(), opts)
		},
	}

	root.AddCommand(serveCmd, usersCmd)
	return root
}

func loadConfig(opts *options) (config.Config, *zerolog.Logger, error) {
	bootLogger := log.New("info")
	config.LoadDotEnv(bootLogger)

	cfg, path, err := config.Load(bootLogger, opts.configPath)
	if err != nil {
		return cfg, bootLogger, err
	}
	cfg.UpdateFrom(config.Config{
		Addr:         opts.addr,
		DatabasePath: opts.dbPath,
		LogLevel:     opts.logLevel,
	})

	logger := log.NewWithOptions(log.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}

func serve(ctx context.Context, opts *options) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, &cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting trix server")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func listUsers(ctx context.Context, opts *options) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	convs, err := st.ListConversationIDs(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Username", "System", "Conversations", "Since"})
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, u := range users {
		count := 0
		for _, c := range convs {
			if c.Has(u.Username) {
				count++
			}
		}
		table.Append([]string{
			u.Username,
			strconv.FormatBool(u.System),
			strconv.Itoa(count),
			u.IdentitySince.Format(time.RFC3339),
		})
	}
	table.Render()
	return nil
}
