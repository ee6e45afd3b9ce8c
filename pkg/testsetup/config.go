// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package testsetup

import (
	"github.com/caarlos0/env"
	"github.com/sirupsen/logrus"

	"github.com/AccelByte/match-session-core/pkg/config"
)

// NewConfig parses a Config from environment defaults, then applies the
// optional override.
func NewConfig(overrideFunc func(cfg *config.Config)) *config.Config {
	configuration := &config.Config{}
	err := env.Parse(configuration)
	if err != nil {
		logrus.Fatal("unable to parse environment variables: ", err)
	}
	if overrideFunc != nil {
		overrideFunc(configuration)
	}
	return configuration
}
