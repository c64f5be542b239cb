// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// relayd is the automation daemon: it schedules triggers, polls feeds,
// accepts webhook deliveries, and serves the tool-discovery RPC.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/daemon"
	"github.com/tombee/relay/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "relayd",
		Short:         "Automation execution daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var (
		configPath string
		listenAddr string
		dbPath     string
		pidFile    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			// CLI flags win over file and environment.
			if listenAddr != "" {
				cfg.Listen.Addr = listenAddr
			}
			if dbPath != "" {
				cfg.Store.Path = dbPath
			}
			if pidFile != "" {
				cfg.Daemon.PIDFile = pidFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := log.New(&log.Config{Level: cfg.Log.Level, Format: log.Format(cfg.Log.Format)})
			slog.SetDefault(logger)

			d, err := daemon.New(cfg, version, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "Path to config file")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "TCP address to listen on")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relayd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}
