package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awesant/awesant-go/internal/config"
)

func TestGroupInputsForcesFileInputsToOneWorker(t *testing.T) {
	inputs := []*config.InputConfig{
		{Type: "file", Path: "/var/log/a.log", Workers: 4},
		{Type: "oracle-xml", Path: "/var/log/alert.xml", Workers: 8},
	}

	groups := groupInputs(inputs)

	require.Len(t, groups, 1, "file-based inputs share the one implicit workers=1 group regardless of their configured workers")
	assert.Equal(t, 1, groups[0].workerCount)
	assert.Len(t, groups[0].inputs, 2)
}

func TestGroupInputsGivesNetworkInputItsOwnGroupWhenWorkersGreaterThanOne(t *testing.T) {
	inputs := []*config.InputConfig{
		{Type: "lumberjack", Bind: "0.0.0.0", Port: 5000, Workers: 4},
	}

	groups := groupInputs(inputs)

	require.Len(t, groups, 1)
	assert.Equal(t, 4, groups[0].workerCount)
	assert.Len(t, groups[0].inputs, 1)
}

func TestGroupInputsSharesImplicitGroupForSingleWorkerInputs(t *testing.T) {
	inputs := []*config.InputConfig{
		{Type: "lumberjack", Bind: "0.0.0.0", Port: 5000},
		{Type: "file", Path: "/var/log/a.log"},
	}

	groups := groupInputs(inputs)

	require.Len(t, groups, 1)
	assert.Equal(t, 1, groups[0].workerCount)
	assert.Len(t, groups[0].inputs, 2)
}

func TestGroupInputsSeparatesMultipleHighWorkerNetworkInputs(t *testing.T) {
	inputs := []*config.InputConfig{
		{Type: "lumberjack", Bind: "0.0.0.0", Port: 5000, Workers: 3},
		{Type: "lumberjack", Bind: "0.0.0.0", Port: 5001, Workers: 2},
	}

	groups := groupInputs(inputs)

	require.Len(t, groups, 2)
	workerCounts := []int{groups[0].workerCount, groups[1].workerCount}
	assert.ElementsMatch(t, []int{3, 2}, workerCounts)
}
