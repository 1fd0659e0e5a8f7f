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

// Command workflowrtd is the thin CLI surface around the core runtime:
// it parses a Config, wires the store/bus/driver stack, and runs one of
// the long-lived components (consumer, outbox) or a one-shot definition
// admin command. None of the workflow semantics live here; this package
// only constructs and starts the pieces internal/* already implements.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	wflog "github.com/workflowrt/engine/internal/log"
	"github.com/workflowrt/engine/internal/rtconfig"
)

var (
	version = "dev"
	commit  = "unknown"
)

// appConfig holds the resolved rtconfig.Config and structured logger for
// the current process, built once in the root command's PersistentPreRunE
// and read by every subcommand.
type appConfig struct {
	config rtconfig.Config
	logger *slog.Logger
}

func main() {
	app := &appConfig{config: rtconfig.Default(), logger: wflog.New(wflog.FromEnv())}
	root := newRootCommand(app)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand(app *appConfig) *cobra.Command {
	var (
		databaseType string
		databasePath string
		databaseDSN  string
		messaging    string
	)

	cmd := &cobra.Command{
		Use:           "workflowrtd",
		Short:         "Serverless Workflow DSL runtime: consumer, outbox, and definition admin",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if databaseType != "" {
				app.config.Database.Type = rtconfig.DatabaseType(databaseType)
			}
			if databasePath != "" {
				app.config.Database.Path = databasePath
			}
			if databaseDSN != "" {
				app.config.Database.ConnectionString = databaseDSN
			}
			if messaging != "" {
				app.config.Messaging.Type = rtconfig.MessagingType(messaging)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&databaseType, "database-type", "", "database.type: postgresql|sqlite|in-memory (default in-memory)")
	cmd.PersistentFlags().StringVar(&databasePath, "database-path", "", "SQLite file path, for --database-type sqlite")
	cmd.PersistentFlags().StringVar(&databaseDSN, "database-dsn", "", "PostgreSQL connection string, for --database-type postgresql")
	cmd.PersistentFlags().StringVar(&messaging, "messaging-type", "", "messaging.type: kafka|rabbitmq|in-memory (default in-memory)")

	cmd.SetVersionTemplate(fmt.Sprintf("workflowrtd %s (%s)\n", version, commit))

	cmd.AddCommand(newRunCommand(app))
	cmd.AddCommand(newDefinitionCommand(app))

	return cmd
}
