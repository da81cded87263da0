// Package matcher classifies filesystem paths into projects and tasks using
// explicit mapping records and the project catalog.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/starford/timetrail/internal/models"
)

// Confidence levels by match source.
const (
	ProjectPatternConfidence = 0.6
	DirectoryConfidence      = 0.8
)

// Cache defaults.
const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// Match sources.
const (
	SourceMapping = "mapping"
	SourceProject = "project"
)

// Match is the outcome of classifying a path.
type Match struct {
	Project    string  `json:"project"`
	ProjectID  string  `json:"project_id,omitempty"`
	Task       string  `json:"task,omitempty"`
	Confidence float64 `json:"confidence"`
	Pattern    string  `json:"pattern"`
	Source     string  `json:"source"`
}

// CatalogSource lists the registered projects and their tasks.
type CatalogSource interface {
	ListProjects(ctx context.Context) ([]*models.Project, error)
	ListTasks(ctx context.Context, projectID string) ([]*models.Task, error)
}

type mappingRule struct {
	pattern  Pattern
	mapping  models.Mapping
	priority int
}

type projectRule struct {
	project  *models.Project
	patterns []Pattern
}

type taskRule struct {
	name     string
	patterns []Pattern
}

// Matcher is safe for concurrent use.
type Matcher struct {
	compiler Compiler
	logger   *slog.Logger

	mu       sync.RWMutex
	mappings []mappingRule
	projects []projectRule
	byName   map[string]*models.Project
	tasks    map[string][]taskRule // by project ID

	cacheSize int
	cacheTTL  time.Duration
	now       func() time.Time
	cache     *resultCache
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithCompiler replaces the glob compiler.
func WithCompiler(c Compiler) Option {
	return func(m *Matcher) { m.compiler = c }
}

// WithCache sets the result cache capacity and entry lifetime.
func WithCache(size int, ttl time.Duration) Option {
	return func(m *Matcher) {
		if size > 0 {
			m.cacheSize = size
		}
		if ttl > 0 {
			m.cacheTTL = ttl
		}
	}
}

// WithClock overrides the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// New returns a Matcher with no mappings and an empty catalog.
func New(opts ...Option) (*Matcher, error) {
	m := &Matcher{
		compiler:  GlobCompiler{},
		logger:    slog.Default(),
		byName:    map[string]*models.Project{},
		tasks:     map[string][]taskRule{},
		cacheSize: DefaultCacheSize,
		cacheTTL:  DefaultCacheTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	cache, err := newResultCache(m.cacheSize, m.cacheTTL, m.now)
	if err != nil {
		return nil, fmt.Errorf("matcher: cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// MappingConfidence maps a record priority to a confidence in [0.5, 1.0].
func MappingConfidence(priority int) float64 {
	p := min(max(priority, 0), 100)
	return 0.5 + float64(p)/100*0.5
}

func (m *Matcher) compile(pattern string) Pattern {
	p, ok := CompileOrFallback(m.compiler, pattern)
	if !ok {
		m.logger.Warn("matcher: invalid glob, using substring match", slog.String("pattern", pattern))
	}
	return p
}

// SetMappings replaces the explicit mapping records. Higher priority wins;
// equal priorities keep declaration order.
func (m *Matcher) SetMappings(mappings []models.Mapping) {
	rules := make([]mappingRule, 0, len(mappings))
	for _, mp := range mappings {
		rules = append(rules, mappingRule{pattern: m.compile(mp.Pattern), mapping: mp, priority: mp.Priority})
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].priority > rules[j].priority })

	m.mu.Lock()
	m.mappings = rules
	m.cache.purge()
	m.mu.Unlock()
}

// SetCatalog replaces the registered projects and their tasks. Projects are
// consulted in the given order.
func (m *Matcher) SetCatalog(projects []*models.Project, tasks map[string][]*models.Task) {
	prules := make([]projectRule, 0, len(projects))
	byName := make(map[string]*models.Project, len(projects))
	trules := make(map[string][]taskRule, len(tasks))
	for _, p := range projects {
		pr := projectRule{project: p}
		for _, raw := range p.DirectoryPatterns {
			pr.patterns = append(pr.patterns, m.compile(raw))
		}
		prules = append(prules, pr)
		byName[p.Name] = p
		for _, t := range tasks[p.ID] {
			tr := taskRule{name: t.Name}
			for _, raw := range t.FilePatterns {
				tr.patterns = append(tr.patterns, m.compile(raw))
			}
			trules[p.ID] = append(trules[p.ID], tr)
		}
	}

	m.mu.Lock()
	m.projects = prules
	m.byName = byName
	m.tasks = trules
	m.cache.purge()
	m.mu.Unlock()
}

// Refresh reloads the catalog from src.
func (m *Matcher) Refresh(ctx context.Context, src CatalogSource) error {
	projects, err := src.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("matcher: list projects: %w", err)
	}
	tasks := make(map[string][]*models.Task, len(projects))
	for _, p := range projects {
		ts, err := src.ListTasks(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("matcher: list tasks for %s: %w", p.Name, err)
		}
		tasks[p.ID] = ts
	}
	m.SetCatalog(projects, tasks)
	m.logger.Debug("matcher: catalog refreshed", slog.Int("projects", len(projects)))
	return nil
}

// Invalidate drops every cached result.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.purge()
}

// Match classifies path. Mapping records are tried first in priority order,
// then the DirectoryPatterns of registered projects.
//
// The read lock is held until the result is cached, so a concurrent reload
// purges either before the lookup or after the put, never in between.
func (m *Matcher) Match(path string) (Match, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.cache.get(path); ok {
		return e.match, e.ok
	}
	res, ok := m.match(path, func(p Pattern) bool { return p.Match(path) })
	if ok && res.Task == "" && res.ProjectID != "" {
		res.Task, _ = m.matchTask(path, res.ProjectID)
	}
	m.cache.put(path, res, ok)
	return res, ok
}

// MatchFromDirectory classifies a working directory. A pattern matches when
// it matches the directory itself or a file directly inside it.
func (m *Matcher) MatchFromDirectory(dir string) (Match, bool) {
	m.mu.RLock()
	res, ok := m.match(dir, func(p Pattern) bool { return matchesDir(p, dir) })
	m.mu.RUnlock()
	if !ok {
		return Match{}, false
	}
	res.Confidence = DirectoryConfidence
	return res, true
}

// match requires m.mu to be held.
func (m *Matcher) match(path string, hit func(Pattern) bool) (Match, bool) {
	for _, r := range m.mappings {
		if !hit(r.pattern) {
			continue
		}
		res := Match{
			Project:    r.mapping.ProjectName,
			Task:       r.mapping.Task,
			Confidence: MappingConfidence(r.priority),
			Pattern:    r.pattern.String(),
			Source:     SourceMapping,
		}
		if p, ok := m.byName[r.mapping.ProjectName]; ok {
			res.ProjectID = p.ID
		}
		return res, true
	}
	for _, pr := range m.projects {
		for _, p := range pr.patterns {
			if hit(p) {
				return Match{
					Project:    pr.project.Name,
					ProjectID:  pr.project.ID,
					Confidence: ProjectPatternConfidence,
					Pattern:    p.String(),
					Source:     SourceProject,
				}, true
			}
		}
	}
	return Match{}, false
}

// MatchTask returns the first task of the project, in declaration order,
// with a FilePattern matching path.
func (m *Matcher) MatchTask(path, projectID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matchTask(path, projectID)
}

func (m *Matcher) matchTask(path, projectID string) (string, bool) {
	for _, t := range m.tasks[projectID] {
		for _, p := range t.patterns {
			if p.Match(path) {
				return t.name, true
			}
		}
	}
	return "", false
}
