package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineSpecDerivedNames(t *testing.T) {
	spec := NewMachineSpec("a", "fbe340d", 17601, 17401, RoleCore, nil, 3)

	assert.Equal(t, "a.fbe340d", spec.FQName())
	assert.Equal(t, "a.fbe340d:5000", spec.DiscoveryAddress())
	assert.Equal(t, "localhost:17601", spec.BoltAddress().String())
	assert.Equal(t, "http://localhost:17401", spec.HTTPURI())
}

func TestDeriveConfigBaseDefaults(t *testing.T) {
	config := deriveConfig(RoleStandalone, 7687, nil, 0)

	assert.Equal(t, "false", config["dbms.backup.enabled"])
	assert.Equal(t, "300m", config["dbms.memory.heap.initial_size"])
	assert.Equal(t, "500m", config["dbms.memory.heap.max_size"])
	assert.Equal(t, "50m", config["dbms.memory.pagecache.size"])
	assert.Equal(t, "5s", config["dbms.transaction.bookmark_ready_timeout"])
	assert.Equal(t, "localhost:7687", config["dbms.connector.bolt.advertised_address"])
	_, hasMode := config["dbms.mode"]
	assert.False(t, hasMode, "standalone machines carry no mode setting")
}

func TestDeriveConfigOverrides(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]string
		key       string
		want      string
	}{
		{
			name:      "caller override wins over base",
			overrides: map[string]string{"dbms.memory.heap.max_size": "2g"},
			key:       "dbms.memory.heap.max_size",
			want:      "2g",
		},
		{
			name:      "new keys pass through",
			overrides: map[string]string{"dbms.security.auth_enabled": "false"},
			key:       "dbms.security.auth_enabled",
			want:      "false",
		},
		{
			name:      "advertised address is always forced",
			overrides: map[string]string{"dbms.connector.bolt.advertised_address": "elsewhere:1"},
			key:       "dbms.connector.bolt.advertised_address",
			want:      "localhost:7687",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := deriveConfig(RoleStandalone, 7687, tt.overrides, 0)
			assert.Equal(t, tt.want, config[tt.key])
		})
	}
}

func TestDeriveConfigRoles(t *testing.T) {
	core := deriveConfig(RoleCore, 17601, nil, 5)
	assert.Equal(t, "CORE", core["dbms.mode"])
	assert.Equal(t, "5", core["causal_clustering.minimum_core_cluster_size_at_formation"])
	assert.Equal(t, "3", core["causal_clustering.minimum_core_cluster_size_at_runtime"])

	replica := deriveConfig(RoleReplica, 17610, nil, 0)
	assert.Equal(t, "READ_REPLICA", replica["dbms.mode"])
	_, hasFormation := replica["causal_clustering.minimum_core_cluster_size_at_formation"]
	assert.False(t, hasFormation)
}

func TestDeriveConfigCopiesPerSpec(t *testing.T) {
	overrides := map[string]string{"k": "v"}
	a := NewMachineSpec("a", "c", 1, 2, RoleCore, overrides, 3)
	b := NewMachineSpec("b", "c", 3, 4, RoleCore, overrides, 3)

	a.Config["k"] = "mutated"
	require.Equal(t, "v", b.Config["k"], "specs must not share config maps")
	require.Equal(t, "v", overrides["k"], "overrides map must not be aliased")
}
