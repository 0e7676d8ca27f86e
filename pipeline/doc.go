// Package pipeline drives release runs through their stage sequence and
// enforces the one-live-run-per-reference concurrency rule.
//
// A run moves through PENDING, TESTING, BUILDING, GATING, and PUBLISHING
// before reaching DONE or ABORTED. Pull requests stop after TESTING; pushes
// to branches stop after BUILDING; only version tags continue through the
// ancestry gate to publication.
//
// # Concurrency
//
// The Controller keeps at most one live run per reference. A new trigger
// event for a reference with a run in flight cancels that run immediately
// and starts fresh with the latest event; the superseded run's handle
// reports CodeSuperseded. Events are never queued.
//
// # Usage
//
//	cfg, err := config.Load("tagship.yaml")
//	p, err := pipeline.New(cfg, pipeline.Deps{
//	    Logger:  logger,
//	    Runner:  runner.NewLocal(),
//	    Staging: staging,
//	    Gate:    g,
//	    Index:   index,
//	})
//	ctrl := pipeline.NewController(p, logger)
//
//	run := ctrl.Submit(ctx, event)
//	if err := run.Wait(ctx); err != nil {
//	    // errors.CodeOf(err) names the failure class,
//	    // errors.StageOf(err) the stage that aborted the run.
//	}
package pipeline
