// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/AccelByte/match-session-core/pkg/envelope"
	"github.com/AccelByte/match-session-core/pkg/models"
)

// Worker drives periodic matching passes, one goroutine per match type.
// Player-facing operations never wait on a pass; they only share the queue.
type Worker struct {
	engine     *Engine
	matchTypes []models.MatchType
	interval   time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorker(engine *Engine, matchTypes []models.MatchType) *Worker {
	return &Worker{
		engine:     engine,
		matchTypes: matchTypes,
		interval:   engine.cfg.PassInterval(),
	}
}

func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for _, matchType := range w.matchTypes {
		w.wg.Add(1)
		go w.run(ctx, matchType)
	}
}

func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, matchType models.MatchType) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scope := envelope.NewRootScope(ctx, "engine.tick", "")
			w.engine.RunPass(scope, matchType)
			scope.Finish()
		}
	}
}
