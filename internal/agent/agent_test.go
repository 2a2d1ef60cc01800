// Copyright 2025 AxonFlow
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

package agent

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoagent/platform/internal/mcp"
)

var echoBinary string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "agent-echo-")
	if err != nil {
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	echoBinary = filepath.Join(dir, "echo")
	build := exec.Command("go", "build", "-o", echoBinary, "autoagent/platform/cmd/mcpservers/echo")
	if out, err := build.CombinedOutput(); err != nil {
		println("failed to build echo reference server:", string(out))
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func newTestMCPClient(t *testing.T) *mcp.Client {
	t.Helper()
	specs := map[string]mcp.ServerSpec{"echo": {Command: echoBinary}}
	c := mcp.New(t.TempDir(), specs, []string{"echo"}, nil)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestEchoExecutor_RoundTripsNamedStateKeys(t *testing.T) {
	client := newTestMCPClient(t)
	exec := EchoExecutor(client, []string{"msg"})

	out, err := exec(context.Background(), map[string]any{"msg": "hello", "unused": 1})
	require.NoError(t, err)

	echoed, ok := out["echo_result"].(map[string]any)
	require.True(t, ok)
	inner, ok := echoed["echoed"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", inner["msg"])
	assert.NotContains(t, inner, "unused")
}

func TestMCPToolExecutor_WrapsCallErrors(t *testing.T) {
	client := newTestMCPClient(t)
	exec := MCPToolExecutor(client, "echo", "fail", nil, "result")

	_, err := exec(context.Background(), map[string]any{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "echo.fail")
}
