// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package provision is the contract with the external game-server allocator.
// Provisioning is the one genuinely slow external call in the lobby
// lifecycle, so it completes asynchronously through a result channel.
package provision

import (
	"context"

	"github.com/AccelByte/match-session-core/pkg/models"
)

// Handle is an opaque reference to a runtime instance being provisioned.
type Handle string

// Result is the completion of a provisioning request. Either Endpoint is set
// on success or Reason explains the failure.
type Result struct {
	Handle   Handle
	Ok       bool
	Endpoint string
	Reason   string
}

// Provisioner requests runtime game-server instances. RequestProvision
// returns immediately with a handle; the channel delivers exactly one Result
// and is closed afterward. Implementations must honor ctx cancellation by
// abandoning the request. A Result arriving after the caller gave up must be
// answered with ReleaseProvision so the runtime is not leaked.
type Provisioner interface {
	RequestProvision(ctx context.Context, lobbyID string, members []models.Member, settings models.LobbySettings) (Handle, <-chan Result)
	ReleaseProvision(handle Handle)
}
