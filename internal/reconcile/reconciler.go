// Package reconcile imports commits from version control and links them to
// the completed time entries they fall within.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/timetrail/internal/models"
)

// Defaults.
const (
	DefaultDepth   = 100
	DefaultWorkers = 4
)

// Store is the ledger surface the reconciler reads and writes.
type Store interface {
	ListProjects(ctx context.Context) ([]*models.Project, error)
	InsertCommit(ctx context.Context, c *models.GitCommit) (bool, error)
	FindCompletedEntriesAt(ctx context.Context, t time.Time) ([]*models.TimeEntry, error)
	LinkCommit(ctx context.Context, hash, entryID string) (bool, error)
}

// RepoResult is the outcome of syncing one repository.
type RepoResult struct {
	Repository string `json:"repository"`
	Scanned    int    `json:"scanned"`
	Imported   int    `json:"imported"`
	Linked     int    `json:"linked"`
	Error      string `json:"error,omitempty"`
}

// Result summarizes a sync run. Repositories appear in scan order.
type Result struct {
	Repositories []RepoResult `json:"repositories"`
}

// Imported returns the number of newly stored commits.
func (r Result) Imported() int {
	n := 0
	for _, rr := range r.Repositories {
		n += rr.Imported
	}
	return n
}

// Linked returns the number of new commit links.
func (r Result) Linked() int {
	n := 0
	for _, rr := range r.Repositories {
		n += rr.Linked
	}
	return n
}

// Failed returns the repositories that could not be synced.
func (r Result) Failed() []RepoResult {
	var out []RepoResult
	for _, rr := range r.Repositories {
		if rr.Error != "" {
			out = append(out, rr)
		}
	}
	return out
}

// Reconciler links commits to time entries.
type Reconciler struct {
	store   Store
	git     GitLog
	logger  *slog.Logger
	depth   int
	workers int
	workDir string

	running sync.Mutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithGit replaces the git reader.
func WithGit(g GitLog) Option {
	return func(r *Reconciler) { r.git = g }
}

// WithDepth sets how many recent commits are read per repository.
func WithDepth(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.depth = n
		}
	}
}

// WithWorkers bounds how many repositories are read concurrently.
func WithWorkers(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithWorkDir sets the directory checked for an implicit repository. An
// empty value disables the check.
func WithWorkDir(dir string) Option {
	return func(r *Reconciler) { r.workDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New returns a Reconciler using the git binary and the process working
// directory.
func New(store Store, opts ...Option) *Reconciler {
	cwd, _ := os.Getwd()
	r := &Reconciler{
		store:   store,
		git:     ExecGit{},
		logger:  slog.Default(),
		depth:   DefaultDepth,
		workers: DefaultWorkers,
		workDir: cwd,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Repositories lists the repositories a sync would scan: every project's
// repositories, then the work directory if it is inside a repository.
func (r *Reconciler) Repositories(ctx context.Context) ([]string, error) {
	projects, err := r.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list projects: %w", err)
	}
	seen := map[string]struct{}{}
	var repos []string
	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		repos = append(repos, abs)
	}
	for _, p := range projects {
		for _, repo := range p.Repositories {
			add(repo)
		}
	}
	if r.workDir != "" {
		if top, err := r.git.Toplevel(ctx, r.workDir); err == nil && top != "" {
			add(top)
		}
	}
	return repos, nil
}

// SyncCommits imports recent commits from every repository and links each
// to the completed entries containing its timestamp. Running it again on
// unchanged history changes nothing. A failing repository is logged and
// reported in the Result; the others still sync.
func (r *Reconciler) SyncCommits(ctx context.Context) (Result, error) {
	r.running.Lock()
	defer r.running.Unlock()

	repos, err := r.Repositories(ctx)
	if err != nil {
		return Result{}, err
	}

	results := make([]RepoResult, len(repos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, repo := range repos {
		g.Go(func() error {
			results[i] = r.syncRepo(gctx, repo)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{Repositories: results}, err
	}

	res := Result{Repositories: results}
	r.logger.Info("reconcile: sync finished",
		slog.Int("repositories", len(repos)),
		slog.Int("imported", res.Imported()),
		slog.Int("linked", res.Linked()),
		slog.Int("failed", len(res.Failed())))
	return res, nil
}

func (r *Reconciler) syncRepo(ctx context.Context, repo string) RepoResult {
	rr := RepoResult{Repository: repo}
	commits, err := r.git.Log(ctx, repo, r.depth)
	if err != nil {
		rr.Error = err.Error()
		r.logger.Warn("reconcile: read repository failed",
			slog.String("repository", repo),
			slog.String("error", err.Error()))
		return rr
	}
	rr.Scanned = len(commits)

	for i := range commits {
		c := &commits[i]
		c.Repository = repo
		inserted, err := r.store.InsertCommit(ctx, c)
		if err != nil {
			rr.Error = err.Error()
			r.logger.Warn("reconcile: store commit failed",
				slog.String("hash", c.Hash),
				slog.String("error", err.Error()))
			return rr
		}
		if inserted {
			rr.Imported++
		}

		entries, err := r.store.FindCompletedEntriesAt(ctx, c.Timestamp)
		if err != nil {
			rr.Error = err.Error()
			return rr
		}
		for _, e := range entries {
			if !e.Contains(c.Timestamp) {
				continue
			}
			linked, err := r.store.LinkCommit(ctx, c.Hash, e.ID)
			if err != nil {
				rr.Error = err.Error()
				return rr
			}
			if linked {
				rr.Linked++
				r.logger.Debug("reconcile: linked commit",
					slog.String("hash", c.Hash),
					slog.String("entry", e.ID))
			}
		}
	}
	return rr
}

// Run syncs immediately and then every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.SyncCommits(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reconcile: sync failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
