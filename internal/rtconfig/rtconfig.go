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

// Package rtconfig is the plain configuration object a deployment builds
// and hands to the core pieces: the §6 recognized options (database,
// messaging, wait/retry outbox tuning) as a Go struct, not a framework.
// Loading it from env, file, or flags is the CLI's job (cmd/workflowrtd);
// this package only names the shape and its defaults.
package rtconfig

import (
	"time"

	"github.com/workflowrt/engine/internal/outbox"
)

// DatabaseType names a §6 `database.type` value. Only Postgres and SQLite
// back a real outboxstore.Store; mysql/h2 are recognized names with no
// implementation in this pack.
type DatabaseType string

const (
	DatabasePostgreSQL DatabaseType = "postgresql"
	DatabaseMySQL      DatabaseType = "mysql"
	DatabaseH2         DatabaseType = "h2"
	DatabaseSQLite     DatabaseType = "sqlite"
	DatabaseInMemory   DatabaseType = "in-memory"
)

// MessagingType names a §6 `messaging.type` value.
type MessagingType string

const (
	MessagingKafka    MessagingType = "kafka"
	MessagingRabbitMQ MessagingType = "rabbitmq"
	MessagingMemory   MessagingType = "in-memory"
)

// DatabaseConfig configures whichever outboxstore.Store backend Database
// selects.
type DatabaseConfig struct {
	Type DatabaseType

	// ConnectionString is used by DatabasePostgreSQL.
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration

	// Path is used by DatabaseSQLite.
	Path string
}

// MessagingConfig configures whichever bus.Bus Messaging selects.
type MessagingConfig struct {
	Type MessagingType

	// Brokers/Topic are used by MessagingKafka.
	Brokers []string
	Topic   string

	// URL/Queue are used by MessagingRabbitMQ.
	URL   string
	Queue string
}

// OutboxConfig mirrors one of §6's `wait.outbox`/`retry.outbox` groups
// (and their paired `*.cleanup` group), the tunables internal/outbox.Config
// accepts directly.
type OutboxConfig struct {
	Every             time.Duration
	BatchSize         int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	BackoffJitter     float64
	MaxAttempts       int
	RatePerSecond     float64

	CleanupEvery     time.Duration
	CleanupAfter     time.Duration
	CleanupBatchSize int
}

// Config is the recognized configuration object named by §6: database,
// messaging, and the wait/retry outbox tuning groups.
type Config struct {
	Database    DatabaseConfig
	Messaging   MessagingConfig
	WaitOutbox  OutboxConfig
	RetryOutbox OutboxConfig
}

// Default returns §6's documented defaults: in-memory database and
// messaging (so a fresh checkout runs with no external dependencies),
// batchSize=100, maxAttempts=3 for waits / 5 for retries, initialDelay=2s,
// every=5s, retention after=7d.
func Default() Config {
	return Config{
		Database:    DatabaseConfig{Type: DatabaseInMemory},
		Messaging:   MessagingConfig{Type: MessagingMemory},
		WaitOutbox:  defaultOutbox(3),
		RetryOutbox: defaultOutbox(5),
	}
}

// ToOutboxConfig maps this group onto the shape internal/outbox.Processor
// actually consumes.
func (o OutboxConfig) ToOutboxConfig() outbox.Config {
	return outbox.Config{
		Every:             o.Every,
		BatchSize:         o.BatchSize,
		MaxAttempts:       o.MaxAttempts,
		BackoffInitial:    o.InitialDelay,
		BackoffMultiplier: o.BackoffMultiplier,
		BackoffJitter:     o.BackoffJitter,
		RatePerSecond:     o.RatePerSecond,
		CleanupEvery:      o.CleanupEvery,
		CleanupAfter:      o.CleanupAfter,
		CleanupBatchSize:  o.CleanupBatchSize,
	}
}

func defaultOutbox(maxAttempts int) OutboxConfig {
	return OutboxConfig{
		Every:             5 * time.Second,
		BatchSize:         100,
		InitialDelay:      2 * time.Second,
		BackoffMultiplier: 2.0,
		BackoffJitter:     0.1,
		MaxAttempts:       maxAttempts,
		RatePerSecond:     50,
		CleanupEvery:      time.Hour,
		CleanupAfter:      7 * 24 * time.Hour,
		CleanupBatchSize:  500,
	}
}
