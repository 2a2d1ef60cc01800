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

package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGrants(t *testing.T) {
	m := NewManager()

	assert.True(t, m.Check("research", CanWebSearch))
	assert.False(t, m.Check("research", CanWriteFiles))
	assert.True(t, m.Check("codesmith", CanExecuteCode))
	assert.True(t, m.Check("supervisor", CanReadFiles))
	assert.False(t, m.Check("supervisor", CanWriteFiles))
}

func TestGrantRequiresReason(t *testing.T) {
	m := NewManager()

	ok := m.Grant("research", CanWriteFiles, "", "admin")
	assert.False(t, ok)
	assert.False(t, m.Check("research", CanWriteFiles))

	ok = m.Grant("research", CanWriteFiles, "needs to save findings", "admin")
	assert.True(t, ok)
	assert.True(t, m.Check("research", CanWriteFiles))
}

func TestGrantThenRevokeThenCheckIsDenied(t *testing.T) {
	m := NewManager()
	require.True(t, m.Grant("research", CanWriteFiles, "save findings", "admin"))

	revoked := m.Revoke("research", CanWriteFiles, "no longer needed")
	assert.True(t, revoked)
	assert.False(t, m.Check("research", CanWriteFiles))
}

func TestRevokeUnheldPermissionReturnsFalse(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Revoke("research", CanDeleteFiles, "n/a"))
}

func TestCheckAndEnforce_DeniedWithoutRaise(t *testing.T) {
	m := NewManager()

	ok, msg, err := m.CheckAndEnforce("research", "delete_file('/tmp/x')", CanDeleteFiles, false)
	assert.False(t, ok)
	assert.Contains(t, msg, "lacks permission")
	assert.NoError(t, err)
}

func TestCheckAndEnforce_DeniedWithRaise(t *testing.T) {
	m := NewManager()

	_, _, err := m.CheckAndEnforce("research", "delete_file('/tmp/x')", CanDeleteFiles, true)
	require.Error(t, err)
	var denied *DeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Equal(t, "research", denied.Agent)
}

func TestCheckAndEnforce_GrantedTracksUsage(t *testing.T) {
	m := NewManager()

	ok, _, err := m.CheckAndEnforce("codesmith", "write_file", CanWriteFiles, true)
	require.NoError(t, err)
	assert.True(t, ok)

	stats := m.Stats()
	assert.GreaterOrEqual(t, stats.ByAgent["codesmith"].Checks, 1)
	assert.Equal(t, 1, m.usageStats["codesmith"][CanWriteFiles])
}

func TestAuditLogEveryGrantHasNonEmptyReason(t *testing.T) {
	m := NewManager()
	m.Grant("research", CanWriteFiles, "reason one", "admin")
	m.Grant("codesmith", CanDeleteFiles, "reason two", "admin")

	for _, entry := range m.AuditLog("", 0) {
		if entry.Action != "grant" {
			continue
		}
		reason, _ := entry.Metadata["reason"].(string)
		assert.NotEmpty(t, reason)
	}
}

func TestAuditLogIsBounded(t *testing.T) {
	m := NewManager()
	for i := 0; i < auditLogCapacity+50; i++ {
		m.Check("research", CanReadFiles)
	}
	assert.LessOrEqual(t, len(m.AuditLog("", 0)), auditLogCapacity)
}

func TestValidateScopedPermission(t *testing.T) {
	assert.NoError(t, ValidateScopedPermission("*"))
	assert.NoError(t, ValidateScopedPermission("mcp:*"))
	assert.NoError(t, ValidateScopedPermission("mcp:amadeus:search_flights"))
	assert.Error(t, ValidateScopedPermission(""))
	assert.Error(t, ValidateScopedPermission("amadeus:search_flights"))
	assert.Error(t, ValidateScopedPermission("mcp::search"))
	assert.Error(t, ValidateScopedPermission(":mcp:search"))
}
