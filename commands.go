package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/drive"
	"github.com/leaselab/image-sync/internal/logging"
	"github.com/leaselab/image-sync/internal/metadata"
	"github.com/leaselab/image-sync/internal/objectstore"
	"github.com/leaselab/image-sync/internal/server"
	"github.com/leaselab/image-sync/internal/storage"
	"github.com/leaselab/image-sync/internal/syncer"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "image-sync",
		Short:         "Mirror property images from Google Drive into R2",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(cfg),
		newRunCmd(cfg),
		newRecordCmd(cfg),
		newKeyCmd(),
		newVersionCmd(),
	)

	return cmd
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger and the scheduled sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(cfg.Log)

			// Create context for graceful shutdown
			ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()

			svc, cleanup, err := newService(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			httpServer := server.NewServer(cfg.Server, svc, logger)

			// Handle graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				logger.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
				if err := httpServer.Start(); err != nil {
					logger.Error().Err(err).Msg("HTTP server error")
				}
			}()

			go func() {
				logger.Info().Dur("interval", cfg.Sync.Interval).Msg("Starting scheduled sync")
				if err := svc.Start(ctx); err != nil && ctx.Err() == nil {
					logger.Error().Err(err).Msg("Scheduled sync error")
				}
			}()

			<-sigChan
			logger.Info().Msg("Shutdown signal received, gracefully shutting down...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("HTTP server shutdown error")
			}

			cancel() // Cancel scheduled runs
			logger.Info().Msg("Shutdown complete")
			return nil
		},
	}
}

func newRunCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one full sync and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.New(cfg.Log).WithContext(cmd.Context())

			svc, cleanup, err := newService(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := svc.Run(ctx, syncer.TriggerCLI)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newRecordCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "record <recordId>",
		Short: "Sync the images of a single record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.New(cfg.Log).WithContext(cmd.Context())

			svc, cleanup, err := newService(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := svc.SyncRecord(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"recordId": args[0],
				"result":   result,
			})
		},
	}
}

func newKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key <slug> <filename>",
		Short: "Print the destination key of a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), syncer.ObjectKey(args[0], args[1]))
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// newService wires the sync service. Sync clients are built only from a
// valid configuration; otherwise every run reports the configuration error.
func newService(ctx context.Context, cfg *config.Config) (*syncer.Service, func(), error) {
	logger := zerolog.Ctx(ctx)

	history, err := storage.NewStorage(ctx, cfg.History)
	if err != nil {
		return nil, nil, errors.Errorf("failed to initialize run history: %w", err)
	}
	cleanup := func() {
		if err := history.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close run history")
		}
	}

	deps := syncer.Deps{History: history}

	if err := cfg.Validate(); err != nil {
		logger.Warn().Err(err).Msg("Configuration incomplete, sync runs will fail")
		return syncer.NewService(cfg, deps), cleanup, nil
	}

	records, err := metadata.NewEnumerator(cfg.Metadata, metadata.WithCallTimeout(cfg.Sync.CallTimeout))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Records = records
	if writer, ok := records.(metadata.ImageWriter); ok {
		deps.Images = writer
	}

	if deps.Source, err = drive.NewLister(ctx, cfg.Source, cfg.Sync.CallTimeout); err != nil {
		cleanup()
		return nil, nil, err
	}
	if deps.Store, err = objectstore.New(cfg.Destination); err != nil {
		cleanup()
		return nil, nil, err
	}

	return syncer.NewService(cfg, deps), cleanup, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
