// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package testsetup

import (
	"context"
	"sync"
	"time"

	"github.com/AccelByte/match-session-core/pkg/common"
	"github.com/AccelByte/match-session-core/pkg/models"
	"github.com/AccelByte/match-session-core/pkg/provision"
)

// FakeProvisioner answers provisioning requests from a script. With an empty
// script every request succeeds immediately with a generated endpoint.
type FakeProvisioner struct {
	// Delay is applied before each result is delivered.
	Delay time.Duration
	// FailWith, when non-empty, makes every request fail with this reason.
	FailWith string
	// Hang suppresses the result entirely so callers hit their timeout.
	Hang bool
	// IgnoreCancel delivers the result even after the request context is
	// cancelled, like an allocator that already committed the runtime.
	IgnoreCancel bool

	mu        sync.Mutex
	requested []string
	released  []provision.Handle
}

func (f *FakeProvisioner) RequestProvision(ctx context.Context, lobbyID string, members []models.Member, settings models.LobbySettings) (provision.Handle, <-chan provision.Result) {
	handle := provision.Handle("prov-" + common.GenerateUUID())
	f.mu.Lock()
	f.requested = append(f.requested, lobbyID)
	f.mu.Unlock()

	results := make(chan provision.Result, 1)
	if f.Hang {
		return handle, results
	}
	go func() {
		defer close(results)
		if f.Delay > 0 {
			if f.IgnoreCancel {
				time.Sleep(f.Delay)
			} else {
				select {
				case <-time.After(f.Delay):
				case <-ctx.Done():
					return
				}
			}
		}
		if f.FailWith != "" {
			results <- provision.Result{Handle: handle, Ok: false, Reason: f.FailWith}
			return
		}
		results <- provision.Result{Handle: handle, Ok: true, Endpoint: "10.0.0.1:7777"}
	}()
	return handle, results
}

func (f *FakeProvisioner) ReleaseProvision(handle provision.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, handle)
}

// RequestedLobbies returns the lobby IDs seen so far, in order.
func (f *FakeProvisioner) RequestedLobbies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requested...)
}

// Released returns every handle given back so far.
func (f *FakeProvisioner) Released() []provision.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provision.Handle(nil), f.released...)
}
