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
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/workflowrt/engine/internal/consumer"
	"github.com/workflowrt/engine/internal/outbox"
	"github.com/workflowrt/engine/pkg/envelope"
)

func newRunCommand(app *appConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a long-lived runtime component",
	}
	cmd.AddCommand(newRunConsumerCommand(app))
	cmd.AddCommand(newRunOutboxCommand(app))
	return cmd
}

// newRunConsumerCommand wires one Consumer over the configured store/bus
// pair and runs it until interrupted, per §4.7's bus-to-driver loop.
func newRunConsumerCommand(app *appConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "consumer",
		Short: "Read workflows-in, drive one step per message, publish the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg := app.config
			store, err := buildStore(cfg.Database)
			if err != nil {
				return err
			}
			d, err := buildDriver(store, cfg, app.logger)
			if err != nil {
				return err
			}

			in, err := buildBus(cfg.Messaging)
			if err != nil {
				return err
			}
			out, err := buildBus(cfg.Messaging)
			if err != nil {
				return err
			}
			deadLetter, err := buildBus(cfg.Messaging)
			if err != nil {
				return err
			}

			c := consumer.New(d, in, out, deadLetter, store, store, consumer.Config{
				WaitMaxAttempts:  cfg.WaitOutbox.MaxAttempts,
				RetryMaxAttempts: cfg.RetryOutbox.MaxAttempts,
			}, app.logger)

			fmt.Fprintln(cmd.OutOrStdout(), "consumer: listening for workflows-in deliveries")
			return c.Run(ctx)
		},
	}
}

// newRunOutboxCommand starts the wait and retry outbox processors, each
// redelivering its due rows back onto the configured bus.
func newRunOutboxCommand(app *appConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "Claim due wait/retry outbox rows and redeliver them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg := app.config
			store, err := buildStore(cfg.Database)
			if err != nil {
				return err
			}
			b, err := buildBus(cfg.Messaging)
			if err != nil {
				return err
			}

			send := func(ctx context.Context, msg envelope.Message) error {
				payload, err := envelope.Encode(msg)
				if err != nil {
					return err
				}
				return b.Publish(ctx, payload)
			}

			wait := outbox.New(store, "wait", send, cfg.WaitOutbox.ToOutboxConfig(), app.logger)
			retry := outbox.New(store, "retry", send, cfg.RetryOutbox.ToOutboxConfig(), app.logger)

			wait.Start(ctx)
			retry.Start(ctx)

			fmt.Fprintln(cmd.OutOrStdout(), "outbox: wait and retry processors running")
			<-ctx.Done()

			wait.Stop()
			retry.Stop()
			return nil
		},
	}
}
