package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JessicaTegner/tagship/trigger"
)

// Controller enforces one live run per reference. A new trigger event for a
// reference with a run in flight cancels that run and starts fresh with the
// latest event; superseded runs are discarded, never queued.
type Controller struct {
	pipeline *Pipeline
	log      *zap.Logger

	mu     sync.Mutex
	active map[string]*Run
}

// NewController creates a controller for the given pipeline.
func NewController(pipeline *Pipeline, log *zap.Logger) *Controller {
	return &Controller{
		pipeline: pipeline,
		log:      log,
		active:   make(map[string]*Run),
	}
}

// Submit starts a pipeline run for the event and returns its handle.
// Any in-flight run for the same reference is canceled immediately; its
// handle reports CodeSuperseded. Cancellation is non-graceful by contract:
// the old run's processes stop and nothing is cleaned up beyond the staging
// area's own retention expiry.
func (c *Controller) Submit(ctx context.Context, event trigger.Event) *Run {
	key := event.Key(c.pipeline.cfg.PipelineID)

	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(event, cancel)

	c.mu.Lock()
	if prior, ok := c.active[key]; ok {
		c.log.Info("superseding in-flight run",
			zap.String("key", key),
			zap.String("old_run_id", prior.ID),
			zap.String("new_run_id", run.ID))
		prior.supersede()
	}
	c.active[key] = run
	c.mu.Unlock()

	go func() {
		err := c.pipeline.execute(runCtx, run)
		run.finish(err)
		cancel()

		c.mu.Lock()
		// Only clear the slot if this run still owns it; a newer run may
		// have replaced it already.
		if current, ok := c.active[key]; ok && current == run {
			delete(c.active, key)
		}
		c.mu.Unlock()
	}()

	return run
}

// Active returns the in-flight run for the given event's reference, or nil.
func (c *Controller) Active(event trigger.Event) *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[event.Key(c.pipeline.cfg.PipelineID)]
}
