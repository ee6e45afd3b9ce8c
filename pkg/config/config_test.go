// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_EnvDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, env.Parse(cfg))

	assert.Equal(t, 2, cfg.PassIntervalSecond)
	assert.Equal(t, 2, cfg.RankedTargetSize)
	assert.Equal(t, 4, cfg.CasualTargetSize)
	assert.Equal(t, 100.0, cfg.ToleranceInitial)
	assert.Equal(t, 50.0, cfg.ToleranceWidenStep)
	assert.Equal(t, 1000.0, cfg.ToleranceMax)
	assert.Equal(t, 5, cfg.RatingApplyMaxRetry)
	assert.True(t, cfg.RequeueOnSessionFailure)
	assert.False(t, cfg.RequeueOnSessionAbandonment)
}

func TestConfig_EnvOverride(t *testing.T) {
	t.Setenv("TOLERANCE_WIDEN_EVERY_SECOND", "10")
	t.Setenv("PROVISION_TIMEOUT_SECOND", "3")

	cfg := &Config{}
	require.NoError(t, env.Parse(cfg))

	assert.Equal(t, 10*time.Second, cfg.ToleranceWidenEvery())
	assert.Equal(t, 3*time.Second, cfg.ProvisionTimeout())
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := &Config{
		PassIntervalSecond:      2,
		ReadyCheckTimeoutSecond: 30,
		HeartbeatTimeoutSecond:  60,
	}

	assert.Equal(t, 2*time.Second, cfg.PassInterval())
	assert.Equal(t, 30*time.Second, cfg.ReadyCheckTimeout())
	assert.Equal(t, time.Minute, cfg.HeartbeatTimeout())
}
