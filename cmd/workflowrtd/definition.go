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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newDefinitionCommand wires `definition get|put`, the admin path onto the
// same store a running consumer/outbox reads definitions from. §6 names
// this the CLI's only contract with core: it writes rows the driver later
// reads on a cold message, nothing more.
func newDefinitionCommand(app *appConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definition",
		Short: "Inspect or register workflow definitions",
	}
	cmd.AddCommand(newDefinitionGetCommand(app))
	cmd.AddCommand(newDefinitionPutCommand(app))
	return cmd
}

func newDefinitionGetCommand(app *appConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name> <version>",
		Short: "Print a registered definition document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := buildStore(app.config.Database)
			if err != nil {
				return err
			}
			raw, err := store.GetDefinition(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("fetching %s@%s: %w", args[0], args[1], err)
			}
			if raw == nil {
				return fmt.Errorf("no definition registered for %s@%s", args[0], args[1])
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}
}

func newDefinitionPutCommand(app *appConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "put <name> <version> <file>",
		Short: "Register a definition document from a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[2])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[2], err)
			}
			store, err := buildStore(app.config.Database)
			if err != nil {
				return err
			}
			if err := store.PutDefinition(cmd.Context(), args[0], args[1], raw); err != nil {
				return fmt.Errorf("registering %s@%s: %w", args[0], args[1], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s@%s\n", args[0], args[1])
			return nil
		},
	}
}
