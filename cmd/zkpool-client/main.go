package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	zkpool "github.com/JellyTony/zkpool"
	clientapp "github.com/JellyTony/zkpool/client/app"
	"github.com/JellyTony/zkpool/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	var opts clientapp.Options
	var logLevel string
	cmd := &cobra.Command{
		Use:          "zkpool-client",
		Short:        "zkpool reference miner",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return applyEnv(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Account == "" {
				return errors.New("account is required, set --account or ZKP_ACCOUNT")
			}
			if err := logger.Init(logger.Settings{Format: "json", Level: logLevel}); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			c := clientapp.NewClient(opts)
			if err := c.Connect(ctx); err != nil {
				logger.WithError(err).Error("connect failed")
				return err
			}
			defer c.Close()
			return c.Run(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Addr, "addr", "localhost:6666", "pool address")
	f.StringVar(&opts.Transport, "transport", "tcp", "transport: tcp|ws")
	f.StringVar(&opts.Account, "account", "", "account name")
	f.StringVar(&opts.Worker, "worker", "worker", "worker name")
	f.StringVar(&opts.Password, "password", "", "worker password")
	f.StringVar(&opts.Version, "protocol-version", zkpool.DefaultVersion, "protocol version")
	f.StringVar(&opts.SessionID, "session", "", "session id to resume")
	f.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "dial and handshake timeout")
	f.DurationVar(&opts.SpeedInterval, "speed-interval", 30*time.Second, "local speed report interval")
	f.StringVar(&logLevel, "log-level", "info", "log level")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// applyEnv lets ZKP_<FLAG> override every flag not given on the command line.
func applyEnv(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		name := "ZKP_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := os.LookupEnv(name); ok {
			err = fs.Set(f.Name, v)
		}
	})
	return err
}
