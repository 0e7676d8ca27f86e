// Package matrix implements the Test stage's build matrix: the cross-product
// of operating systems and runtime versions, executed as independent cells.
// The matrix is fail-open: every cell runs to completion regardless of
// sibling failures, so one run shows the full failure picture. The stage as a
// whole fails if any cell fails.
package matrix

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JessicaTegner/tagship/cache"
	"github.com/JessicaTegner/tagship/errors"
	"github.com/JessicaTegner/tagship/runner"
)

// Cell is one independent (operating-system, runtime-version) execution unit.
type Cell struct {
	// OS is the operating system label ("ubuntu-latest", "macos-latest").
	OS string

	// Runtime is the language runtime version ("3.11", "3.12").
	Runtime string
}

// String renders the cell as it appears in logs and error messages.
func (c Cell) String() string {
	return c.OS + "/" + c.Runtime
}

// Matrix is the fixed set of operating systems and runtime versions the Test
// stage covers.
type Matrix struct {
	OSList   []string
	Runtimes []string
}

// Cells returns the full cross-product, sorted for stable execution order.
func (m Matrix) Cells() []Cell {
	cells := make([]Cell, 0, len(m.OSList)*len(m.Runtimes))
	for _, osName := range m.OSList {
		for _, rt := range m.Runtimes {
			cells = append(cells, Cell{OS: osName, Runtime: rt})
		}
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].OS != cells[j].OS {
			return cells[i].OS < cells[j].OS
		}
		return cells[i].Runtime < cells[j].Runtime
	})
	return cells
}

// Validate checks the matrix is non-empty in both dimensions.
func (m Matrix) Validate() error {
	if len(m.OSList) == 0 || len(m.Runtimes) == 0 {
		return errors.New(errors.CodeInvalidConfig, "matrix requires at least one OS and one runtime")
	}
	return nil
}

// Command is one argv-style command executed inside a cell.
type Command []string

// CellResult is the outcome of a single cell run.
type CellResult struct {
	Cell     Cell
	Passed   bool
	CacheHit bool
	Output   string
	Err      error
	Duration time.Duration
}

// Report aggregates the results of all cells of one Test stage run.
type Report struct {
	Results []CellResult
}

// Failed returns the cells that did not pass.
func (r Report) Failed() []CellResult {
	var failed []CellResult
	for _, res := range r.Results {
		if !res.Passed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err returns nil when every cell passed, otherwise a validation-failure
// error naming each failed cell.
func (r Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, len(failed))
	for i, res := range failed {
		names[i] = res.Cell.String()
	}
	return errors.Newf(errors.CodeValidationFailed,
		"%d of %d matrix cells failed: %s", len(failed), len(r.Results), strings.Join(names, ", "))
}

// Suite runs the validation commands of one cell: restore the dependency
// cache, install dependencies on a miss, then run the check commands (lint,
// static analysis, and the native-SDK import smoke check).
type Suite struct {
	// Runner executes cell commands. Required.
	Runner runner.Runner

	// Install is run only on a cache miss to provision dependencies.
	Install []Command

	// Checks are the validation commands; all must succeed for the cell to
	// pass. Checks after the first failure still run so the cell's log shows
	// everything that is broken.
	Checks []Command

	// WorkDir is the checkout directory commands run in.
	WorkDir string

	// Cache is the optional dependency cache; nil disables caching.
	Cache *cache.Store

	// LockfilePath locates the dependency lockfile the cache key hashes.
	// Required when Cache is set.
	LockfilePath string

	// DependencyDir is the base installed-dependency prefix. Each cell gets
	// its own directory derived from it (exported to commands as CELL_DEPS)
	// so parallel cells never install into or snapshot a shared tree.
	// Required when Cache is set.
	DependencyDir string

	// Parallelism bounds concurrent cells. Zero means all cells at once.
	Parallelism int
}

// Run executes every cell of the matrix. It never stops early: a cell
// failure is recorded and its siblings keep running. The returned Report
// carries one result per cell, in the matrix's stable order.
func (s *Suite) Run(ctx context.Context, m Matrix) (Report, error) {
	if s.Runner == nil {
		return Report{}, errors.New(errors.CodeInvalidConfig, "suite requires a runner")
	}
	if err := m.Validate(); err != nil {
		return Report{}, err
	}

	cells := m.Cells()
	results := make([]CellResult, len(cells))

	g, gctx := errgroup.WithContext(ctx)
	if s.Parallelism > 0 {
		g.SetLimit(s.Parallelism)
	}

	for i, cell := range cells {
		i, cell := i, cell
		g.Go(func() error {
			results[i] = s.runCell(gctx, cell)
			// Cell failures are recorded, not returned: returning an error
			// would cancel sibling cells and defeat the fail-open policy.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Report{}, errors.Wrap(err, errors.CodeInternal, "matrix execution")
	}
	return Report{Results: results}, nil
}

// runCell executes one cell to completion.
func (s *Suite) runCell(ctx context.Context, cell Cell) CellResult {
	start := time.Now()
	result := CellResult{Cell: cell}
	var output strings.Builder

	depDir := s.cellDepDir(cell)
	env := map[string]string{
		"CELL_OS":      cell.OS,
		"CELL_RUNTIME": cell.Runtime,
	}
	if depDir != "" {
		env["CELL_DEPS"] = depDir
	}

	install := true
	var key cache.Key
	if s.Cache != nil {
		var err error
		key, err = cache.KeyFromFile(cell.OS, cell.Runtime, s.LockfilePath)
		if err == nil {
			hit, restoreErr := s.Cache.Restore(ctx, key, depDir)
			if restoreErr == nil && hit {
				result.CacheHit = true
				install = false
			}
		}
		// Cache errors are best-effort: fall through to a fresh install.
	}

	if install {
		for _, cmd := range s.Install {
			if !s.runCommand(ctx, cmd, env, &output, &result, errors.CodeExecutionFailed) {
				result.Duration = time.Since(start)
				return result
			}
		}
		if s.Cache != nil && key.Validate() == nil {
			if err := s.Cache.Save(ctx, key, depDir); err != nil {
				fmt.Fprintf(&output, "cache save skipped: %v\n", err)
			}
		}
	}

	passed := true
	for _, cmd := range s.Checks {
		if !s.runCommand(ctx, cmd, env, &output, &result, errors.CodeValidationFailed) {
			passed = false
			// Keep going: later checks still report their own status.
		}
	}

	result.Passed = passed
	result.Output = output.String()
	result.Duration = time.Since(start)
	return result
}

// cellDepDir derives the cell's private dependency directory. Cells run in
// parallel against one checkout; a shared directory would let one cell
// snapshot files a sibling just installed under a different key.
func (s *Suite) cellDepDir(cell Cell) string {
	if s.DependencyDir == "" {
		return ""
	}
	return s.DependencyDir + "-" + cell.OS + "-" + cell.Runtime
}

// runCommand executes a single command, appending its output to the log.
// Returns false on failure, with the error recorded on the result under the
// given code.
func (s *Suite) runCommand(ctx context.Context, cmd Command, env map[string]string, output *strings.Builder, result *CellResult, code errors.ErrorCode) bool {
	if len(cmd) == 0 {
		return true
	}

	opts := []runner.Option{runner.WithEnv(env)}
	if s.WorkDir != "" {
		opts = append(opts, runner.WithWorkingDir(s.WorkDir))
	}

	res, err := s.Runner.Run(ctx, cmd[0], cmd[1:], opts...)
	if res != nil {
		output.WriteString(res.Stdout)
		output.WriteString(res.Stderr)
	}
	if err != nil {
		result.Err = errors.Wrap(err, code,
			fmt.Sprintf("cell %s: %s", result.Cell, strings.Join(cmd, " ")))
		result.Output = output.String()
		return false
	}
	return true
}
