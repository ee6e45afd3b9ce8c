// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package config

import "time"

type Config struct {
	PassIntervalSecond          int     `env:"PASS_INTERVAL_SECOND"            envDefault:"2"    envDocs:"interval between matching passes per match type"`
	RankedTargetSize            int     `env:"RANKED_TARGET_SIZE"              envDefault:"2"    envDocs:"target lobby size for ranked tickets"`
	CasualTargetSize            int     `env:"CASUAL_TARGET_SIZE"              envDefault:"4"    envDocs:"target lobby size for casual tickets"`
	ToleranceInitial            float64 `env:"TOLERANCE_INITIAL"               envDefault:"100"  envDocs:"initial rating tolerance for a fresh ticket"`
	ToleranceWidenStep          float64 `env:"TOLERANCE_WIDEN_STEP"            envDefault:"50"   envDocs:"rating tolerance added per widening step"`
	ToleranceWidenEverySecond   int     `env:"TOLERANCE_WIDEN_EVERY_SECOND"    envDefault:"5"    envDocs:"seconds of waiting per widening step"`
	ToleranceMax                float64 `env:"TOLERANCE_MAX"                   envDefault:"1000" envDocs:"tolerance ceiling, at the ceiling rating difference is ignored"`
	CandidateWindowSize         int     `env:"CANDIDATE_WINDOW_SIZE"           envDefault:"16"   envDocs:"max compatible candidates considered per pivot during a pass"`
	TicketTTLSecond             int     `env:"TICKET_TTL_SECOND"               envDefault:"300"  envDocs:"a ticket waiting longer than this expires, zero disables expiry"`
	ReadyCheckTimeoutSecond     int     `env:"READY_CHECK_TIMEOUT_SECOND"      envDefault:"30"   envDocs:"a lobby stuck in Ready longer than this auto-cancels"`
	HeartbeatTimeoutSecond      int     `env:"HEARTBEAT_TIMEOUT_SECOND"        envDefault:"60"   envDocs:"a session without heartbeats longer than this is abandoned"`
	ProvisionTimeoutSecond      int     `env:"PROVISION_TIMEOUT_SECOND"        envDefault:"15"   envDocs:"max wait for a provisioning response before cancelling the lobby"`
	RatingApplyMaxRetry         int     `env:"RATING_APPLY_MAX_RETRY"          envDefault:"5"    envDocs:"attempts per rating write before escalating"`
	RatingKFactorBase           float64 `env:"RATING_K_FACTOR_BASE"            envDefault:"32"   envDocs:"base K factor for rating adjustment"`
	RatingKFactorMax            float64 `env:"RATING_K_FACTOR_MAX"             envDefault:"64"   envDocs:"K factor ceiling"`
	RatingUncertaintyRef        float64 `env:"RATING_UNCERTAINTY_REF"          envDefault:"350"  envDocs:"reference uncertainty, K scales by uncertainty/reference"`
	RequeueOnSessionFailure     bool    `env:"REQUEUE_ON_SESSION_FAILURE"      envDefault:"true" envDocs:"re-enqueue members automatically when a session fails"`
	RequeueOnSessionAbandonment bool    `env:"REQUEUE_ON_SESSION_ABANDONMENT"  envDefault:"false" envDocs:"re-enqueue members automatically when a session is abandoned"`
}

func (c *Config) PassInterval() time.Duration {
	return time.Duration(c.PassIntervalSecond) * time.Second
}

func (c *Config) ToleranceWidenEvery() time.Duration {
	return time.Duration(c.ToleranceWidenEverySecond) * time.Second
}

func (c *Config) ReadyCheckTimeout() time.Duration {
	return time.Duration(c.ReadyCheckTimeoutSecond) * time.Second
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSecond) * time.Second
}

func (c *Config) ProvisionTimeout() time.Duration {
	return time.Duration(c.ProvisionTimeoutSecond) * time.Second
}

func (c *Config) TicketTTL() time.Duration {
	return time.Duration(c.TicketTTLSecond) * time.Second
}
