package membership

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_LocalFanOut(t *testing.T) {
	reg, err := NewRegistry(selfMember("M"), []RoleDescriptor{
		{Role: "Worker", Factory: staticFactory("w"), Local: true},
	})
	require.NoError(t, err)

	const peers = 5
	for i := peers; i > 0; i-- {
		require.NoError(t, reg.RecordStatus(ManagerRole, MemberID(fmt.Sprintf("P%d", i)), StatusConnected))
	}

	tasks := Plan("M", reg)
	require.Len(t, tasks, peers)
	for i, task := range tasks {
		assert.Equal(t, CreationTask{Manager: ManagerID(fmt.Sprintf("P%d", i+1)), Role: "Worker"}, task)
	}

	reg.MergeSnapshot(Snapshot{Source: "P2", Roles: map[RoleName]RoleView{
		"Worker": {Managers: map[MemberID]ManagerID{"w-p2": "P2"}},
	}})
	assert.Len(t, Plan("M", reg), peers-1)
}

func TestPlan_NoPeersNoLocalTasks(t *testing.T) {
	reg, err := NewRegistry(selfMember("M"), []RoleDescriptor{
		{Role: "Worker", Factory: staticFactory("w"), Local: true},
	})
	require.NoError(t, err)

	assert.Empty(t, Plan("M", reg))
}

func TestPlan_SingletonConvergence(t *testing.T) {
	reg := newTestRegistry(t)

	assert.Equal(t, []CreationTask{{Manager: "M", Role: "Leader"}}, Plan("M", reg))

	// Ownership alone does not satisfy a singleton.
	reg.MergeSnapshot(Snapshot{Source: "P", Roles: map[RoleName]RoleView{
		"Leader": {Managers: map[MemberID]ManagerID{"l1": "P"}},
	}})
	assert.Equal(t, []CreationTask{{Manager: "M", Role: "Leader"}}, Plan("M", reg))

	require.NoError(t, reg.RecordStatus("Leader", "l1", StatusConnected))
	assert.Empty(t, Plan("M", reg))
}

func TestPlan_SkipsManagerRole(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.RecordStatus("Leader", "l1", StatusConnected))
	require.NoError(t, reg.RecordStatus(ManagerRole, "P", StatusConnected))

	for _, task := range Plan("M", reg) {
		assert.NotEqual(t, ManagerRole, task.Role)
	}
}

func TestReadiness_Monotonic(t *testing.T) {
	var r readiness
	assert.Equal(t, Initialized, r.state)

	assert.False(t, r.observe(2))
	assert.Equal(t, Initialized, r.state)

	assert.True(t, r.observe(0))
	assert.Equal(t, Ready, r.state)

	assert.False(t, r.observe(0))
	assert.False(t, r.observe(3))
	assert.Equal(t, Ready, r.state)
	assert.Equal(t, "ready", r.state.String())
}
