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
	"log/slog"

	"github.com/workflowrt/engine/internal/activities"
	"github.com/workflowrt/engine/internal/bus"
	"github.com/workflowrt/engine/internal/defstore"
	"github.com/workflowrt/engine/internal/driver"
	"github.com/workflowrt/engine/internal/expr"
	"github.com/workflowrt/engine/internal/httpcall"
	"github.com/workflowrt/engine/internal/outboxstore"
	"github.com/workflowrt/engine/internal/outboxstore/memory"
	"github.com/workflowrt/engine/internal/outboxstore/postgres"
	"github.com/workflowrt/engine/internal/outboxstore/sqlite"
	"github.com/workflowrt/engine/internal/rtconfig"
	"github.com/workflowrt/engine/internal/runscript"
	"github.com/workflowrt/engine/internal/scope"
	"github.com/workflowrt/engine/internal/staticscope"
	"github.com/workflowrt/engine/internal/unsupported"
)

// buildStore resolves cfg.Database into a concrete outboxstore.Store,
// which also fronts internal/defstore's raw definition lookups.
func buildStore(cfg rtconfig.DatabaseConfig) (outboxstore.Store, error) {
	switch cfg.Type {
	case rtconfig.DatabaseSQLite:
		return sqlite.New(sqlite.Config{Path: cfg.Path, WAL: true})
	case rtconfig.DatabasePostgreSQL:
		return postgres.New(postgres.Config{
			ConnectionString: cfg.ConnectionString,
			MaxOpenConns:     cfg.MaxOpenConns,
			MaxIdleConns:     cfg.MaxIdleConns,
			ConnMaxLifetime:  cfg.ConnMaxLifetime,
		})
	case rtconfig.DatabaseInMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database.type %q", cfg.Type)
	}
}

// buildBus resolves cfg.Messaging into a concrete bus.Bus. Kafka and
// RabbitMQ resolve to named stubs (see internal/bus) that fail every
// operation with a COMMUNICATION error, since wiring a real broker client
// is a deployment choice outside this runtime's core contract.
func buildBus(cfg rtconfig.MessagingConfig) (bus.Bus, error) {
	switch cfg.Type {
	case rtconfig.MessagingKafka:
		return bus.NewKafkaBus(bus.KafkaConfig{Brokers: cfg.Brokers, Topic: cfg.Topic}), nil
	case rtconfig.MessagingRabbitMQ:
		return bus.NewRabbitMQBus(bus.RabbitMQConfig{URL: cfg.URL, Queue: cfg.Queue}), nil
	case rtconfig.MessagingMemory, "":
		return bus.NewMemoryBus(), nil
	default:
		return nil, fmt.Errorf("unsupported messaging.type %q", cfg.Type)
	}
}

// buildDriver assembles the full interpreter stack (evaluator, activities,
// definition store, scope provider) into one driver.Driver reading
// definitions from store.
func buildDriver(store outboxstore.Store, cfg rtconfig.Config, logger *slog.Logger) (*driver.Driver, error) {
	ev := expr.New()

	httpAct, err := httpcall.New(ev, httpcall.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("building http activity: %w", err)
	}
	scriptAct := runscript.New(ev, runscript.DefaultConfig())
	restAct := unsupported.New()
	act := activities.New(httpAct, scriptAct, restAct)

	defs := defstore.New(store)
	scopes := staticscope.New(scope.Workflow{
		Secrets: staticscope.SecretsFromEnv("WORKFLOWRT_SECRET_"),
	})

	d := driver.New(defs, ev, act, scopes)
	d.Logger = logger
	return d, nil
}
