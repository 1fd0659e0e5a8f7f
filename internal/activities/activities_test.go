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

package activities_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/workflowrt/engine/internal/activities"
	"github.com/workflowrt/engine/pkg/model"
)

type stubHTTP struct{ called bool }

func (s *stubHTTP) CallHTTP(ctx context.Context, n *model.Node, scope map[string]any) (any, error) {
	s.called = true
	return "http", nil
}

type stubScript struct{ called bool }

func (s *stubScript) Run(ctx context.Context, n *model.Node, scope map[string]any) (any, error) {
	s.called = true
	return "run", nil
}

type stubRest struct{ called bool }

func (s *stubRest) Unsupported(ctx context.Context, n *model.Node) (any, error) {
	s.called = true
	return nil, nil
}

func TestSetDispatchesEachMethodToItsOwnImplementation(t *testing.T) {
	h, s, r := &stubHTTP{}, &stubScript{}, &stubRest{}
	set := activities.New(h, s, r)

	out, err := set.CallHTTP(context.Background(), &model.Node{}, nil)
	require.NoError(t, err)
	require.Equal(t, "http", out)
	require.True(t, h.called)

	out, err = set.Run(context.Background(), &model.Node{}, nil)
	require.NoError(t, err)
	require.Equal(t, "run", out)
	require.True(t, s.called)

	_, err = set.Unsupported(context.Background(), &model.Node{})
	require.NoError(t, err)
	require.True(t, r.called)
}
