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

package telemetry_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/workflowrt/engine/internal/driver"
	"github.com/workflowrt/engine/internal/telemetry"
)

func TestObserveStepAndBatchExposePrometheusMetrics(t *testing.T) {
	p, err := telemetry.New(telemetry.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := p.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}()

	ctx := context.Background()
	p.ObserveStep(ctx, "greet", driver.Done, 5*time.Millisecond, nil)
	p.ObserveStep(ctx, "greet", driver.Fault, 2*time.Millisecond, errors.New("boom"))
	p.ObserveBatch(ctx, "wait", 3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	p.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"workflowrt_driver_steps_total",
		"workflowrt_driver_step_duration_seconds",
		"workflowrt_outbox_batches_total",
		"workflowrt_outbox_batch_size",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected /metrics output to contain %q", want)
		}
	}
}

func TestWrapStepRecordsErrorOnFailure(t *testing.T) {
	p, err := telemetry.New(telemetry.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	wantErr := errors.New("step failed")
	gotErr := p.WrapStep(context.Background(), "greet", func(ctx context.Context) error {
		return wantErr
	})
	if gotErr != wantErr {
		t.Fatalf("expected WrapStep to return the wrapped error, got %v", gotErr)
	}
}
