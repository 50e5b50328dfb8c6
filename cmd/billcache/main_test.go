package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
)

func TestEmbeddedConfigIsValid(t *testing.T) {
	cfg, err := config.LoadConfig("", embeddedConfig)
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))

	bc := cfg.BillCache
	require.Len(t, bc.Datasets, 2)
	assert.Equal(t, model.DatasetNocsBalanceSummary, bc.Datasets[0].Key)
	assert.Equal(t, "bill-stop-refresh", bc.Datasets[1].WorkflowCode)
	require.Len(t, bc.Workflows, 2)
	assert.Equal(t, config.RepeatPolicyRepeatUntilZero, bc.Workflows[0].RepeatPolicy)
	assert.Equal(t, ":9090", bc.Infrastructure.MetricsAddr)
	assert.Contains(t, bc.AdaptorConfigs, "cache")
	assert.Contains(t, bc.AdaptorConfigs, "upstream")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"sqlite", "mysql"}, splitList(" sqlite, ,mysql "))
	assert.Nil(t, splitList(""))
}
