package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/config"
)

// Dispatcher executes batches of tool calls against the registry with
// bounded parallelism. Results come back in request order regardless of
// completion order, one result per request.
type Dispatcher struct {
	registry       *Registry
	eventBus       *bus.EventBus
	logger         zerolog.Logger
	maxConcurrency int
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, cfg config.ToolsConfig, eventBus *bus.EventBus, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:       registry,
		eventBus:       eventBus,
		logger:         logger.With().Str("component", "dispatcher").Logger(),
		maxConcurrency: cfg.MaxConcurrency,
	}
}

// ExecuteAll runs every request concurrently (bounded by MaxConcurrency,
// 0 = unlimited within a batch). One call's failure never cancels its
// siblings; a panicking tool call becomes that call's Err result.
func (d *Dispatcher) ExecuteAll(ctx context.Context, reqs []CallRequest) []CallResult {
	if len(reqs) == 0 {
		return nil
	}

	results := make([]CallResult, len(reqs))

	var sem chan struct{}
	if d.maxConcurrency > 0 {
		sem = make(chan struct{}, d.maxConcurrency)
	}

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, req CallRequest) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results[idx] = d.executeOne(ctx, req)
		}(i, req)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) executeOne(ctx context.Context, req CallRequest) (result CallResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("tool", req.Name).Interface("panic", r).Msg("Tool call panicked")
			result = errResult(req, fmt.Sprintf("tool %s panicked: %v", req.Name, r))
		}
	}()

	start := time.Now()
	d.logger.Debug().Str("tool", req.Name).Str("callId", req.ID).Msg("Executing tool call")
	if d.eventBus != nil {
		d.eventBus.Publish(bus.Event{
			Type: bus.EventTypeToolCallStarted,
			Data: map[string]any{"tool": req.Name, "callId": req.ID},
		})
	}

	result = d.registry.CallTool(ctx, req)

	elapsed := time.Since(start)
	if result.OK() {
		d.logger.Info().Str("tool", req.Name).Dur("elapsed", elapsed).Msg("Tool call completed")
	} else {
		d.logger.Warn().Str("tool", req.Name).Str("error", result.Err).Dur("elapsed", elapsed).Msg("Tool call failed")
	}
	if d.eventBus != nil {
		d.eventBus.Publish(bus.Event{
			Type: bus.EventTypeToolCallCompleted,
			Data: map[string]any{
				"tool":    req.Name,
				"callId":  req.ID,
				"ok":      result.OK(),
				"elapsed": elapsed.Milliseconds(),
			},
		})
	}
	return result
}
