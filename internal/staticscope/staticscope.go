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

// Package staticscope is the simplest driver.ScopeProvider: one fixed
// {context, secrets, workflow, runtime} layer handed back for every
// (name, version), loaded once at process start. Real deployments with a
// secrets manager or per-workflow context substitute their own
// ScopeProvider; this one exists so cmd/workflowrtd runs without one.
package staticscope

import (
	"context"
	"os"
	"strings"

	"github.com/workflowrt/engine/internal/scope"
)

// Provider hands back the same scope.Workflow for every lookup.
type Provider struct {
	wf scope.Workflow
}

// New builds a Provider returning wf for every WorkflowScope call.
func New(wf scope.Workflow) Provider {
	return Provider{wf: wf}
}

// WorkflowScope implements driver.ScopeProvider.
func (p Provider) WorkflowScope(ctx context.Context, name, version string) (scope.Workflow, error) {
	return p.wf, nil
}

// SecretsFromEnv collects environment variables prefixed with prefix into
// a secrets map, stripping the prefix and lowercasing the remaining key
// (WORKFLOWRT_SECRET_API_KEY -> api_key), the same env-var-family habit
// internal/log.FromEnv uses for its own config.
func SecretsFromEnv(prefix string) map[string]any {
	secrets := make(map[string]any)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, prefix))
		secrets[key] = v
	}
	return secrets
}
