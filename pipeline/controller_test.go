package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JessicaTegner/tagship/errors"
	"github.com/JessicaTegner/tagship/trigger"
)

func TestControllerRunsToCompletion(t *testing.T) {
	env := setupPipeline(t, nil)
	ctrl := NewController(env.pipeline, zap.NewNop())

	run := ctrl.Submit(context.Background(), releaseEvent(t))
	require.NoError(t, run.Wait(context.Background()))

	assert.Equal(t, StateDone, run.State())
	assert.Equal(t, 1, env.uploader.uploads())

	// The slot is released once the run finishes.
	assert.Eventually(t, func() bool {
		return ctrl.Active(releaseEvent(t)) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestControllerSupersedesInFlightRun(t *testing.T) {
	env := setupPipeline(t, nil)
	env.runner.setBlock("lint")
	env.runner.started = make(chan struct{}, 8)

	ctrl := NewController(env.pipeline, zap.NewNop())
	ev := releaseEvent(t)

	first := ctrl.Submit(context.Background(), ev)
	<-env.runner.started

	// A newer event for the same reference arrives while the first run is
	// mid-test. The first run must be canceled, not queued behind.
	env.runner.setBlock("")
	second := ctrl.Submit(context.Background(), ev)

	err := first.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeSuperseded, errors.CodeOf(err))
	assert.True(t, first.Superseded())
	assert.Equal(t, StateAborted, first.State())

	require.NoError(t, second.Wait(context.Background()))
	assert.Equal(t, StateDone, second.State())
	assert.False(t, second.Superseded())

	// Only the surviving run published.
	assert.Equal(t, 1, env.uploader.uploads())
}

func TestControllerIsolatesReferences(t *testing.T) {
	env := setupPipeline(t, nil)
	env.runner.setBlock("lint")
	env.runner.started = make(chan struct{}, 8)

	ctrl := NewController(env.pipeline, zap.NewNop())

	tagRun := ctrl.Submit(context.Background(), releaseEvent(t))
	<-env.runner.started

	// A push to a different reference shares nothing with the tag run.
	env.runner.setBlock("")
	branchRun := ctrl.Submit(context.Background(), branchEvent(t))
	require.NoError(t, branchRun.Wait(context.Background()))

	assert.False(t, tagRun.Superseded())
	assert.NotNil(t, ctrl.Active(releaseEvent(t)))

	// Release the tag run and let it finish.
	tagRun.supersede()
	err := tagRun.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeSuperseded, errors.CodeOf(err))
}

func TestControllerCancelViaParentContext(t *testing.T) {
	env := setupPipeline(t, nil)
	env.runner.setBlock("lint")
	env.runner.started = make(chan struct{}, 8)

	ctrl := NewController(env.pipeline, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	run := ctrl.Submit(ctx, branchEvent(t))
	<-env.runner.started
	cancel()

	err := run.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeCanceled, errors.CodeOf(err))
	assert.False(t, run.Superseded())
}

func TestConcurrentBuildDoesNotReplaceStagedArtifact(t *testing.T) {
	env := setupPipeline(t, nil)

	builds := 0
	env.runner.onBuild = func(workDir string) {
		builds++
		payload := fmt.Sprintf("payload-%d", builds)
		if err := os.WriteFile(filepath.Join(workDir, "dist", "payload.txt"), []byte(payload), 0o644); err != nil {
			t.Error(err)
		}
	}
	env.gate.entered = make(chan struct{}, 1)
	env.gate.hold = make(chan struct{})

	ctrl := NewController(env.pipeline, zap.NewNop())

	// The tag run stages its build, then parks inside the gate.
	tagRun := ctrl.Submit(context.Background(), releaseEvent(t))
	<-env.gate.entered

	// A branch push builds into the same staging store while the tag run
	// sits between its Build and Publish stages.
	branchRun := ctrl.Submit(context.Background(), branchEvent(t))
	require.NoError(t, branchRun.Wait(context.Background()))

	close(env.gate.hold)
	require.NoError(t, tagRun.Wait(context.Background()))

	// The published release carries the tag run's own build, not the
	// branch run's.
	require.Equal(t, 1, env.uploader.uploads())
	assert.Contains(t, env.uploader.payloads[0], "payload-1")
	assert.NotContains(t, env.uploader.payloads[0], "payload-2")
}

func TestControllerKeySeparatesEventOrigins(t *testing.T) {
	tag, err := trigger.Parse(trigger.EventPush, "refs/tags/v2.0.0", testCommit)
	require.NoError(t, err)
	branch, err := trigger.Parse(trigger.EventPush, "refs/heads/v2.0.0", testCommit)
	require.NoError(t, err)

	// Same name, different kind: distinct concurrency slots.
	assert.NotEqual(t, tag.Key("release"), branch.Key("release"))
}
