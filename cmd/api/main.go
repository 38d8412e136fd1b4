package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("chat relay exited")
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chat-relay",
		Short:         "Realtime relay between chat widgets, operators and the assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	return root
}

type serveFlags struct {
	addr     string
	bus      string
	logLevel string
}

func newServeCommand() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Load .env file
			envErr := godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := flags.apply(cfg); err != nil {
				return err
			}

			setupLogging(cfg.Log)
			if envErr != nil {
				log.Debug().Err(envErr).Msg("no .env file, using process environment only")
			}

			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "", "listen address, overrides PORT")
	cmd.Flags().StringVar(&flags.bus, "bus", "", "fanout bus driver (redis, redisstream, nats, memory), overrides BUS_DRIVER")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
	return cmd
}

func (f serveFlags) apply(cfg *config.Config) error {
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.bus != "" {
		if err := config.ValidateBusDriver(f.bus); err != nil {
			return err
		}
		cfg.Bus.Driver = f.bus
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return nil
}
