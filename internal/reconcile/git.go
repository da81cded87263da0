package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/starford/timetrail/internal/models"
)

// GitLog reads commit history from a repository.
type GitLog interface {
	// Toplevel returns the root of the work tree containing dir.
	Toplevel(ctx context.Context, dir string) (string, error)
	// Log returns up to n most recent commits of repo, newest first.
	Log(ctx context.Context, repo string, n int) ([]models.GitCommit, error)
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"

	// logFormat prints hash, author, committer date and subject. The
	// committer date moves with rebases and amends, so a commit is placed
	// where it last landed.
	logFormat = "--format=%H%x1f%an%x1f%cI%x1f%s%x1e"
)

// ExecGit implements GitLog by running the git binary.
type ExecGit struct {
	// Binary defaults to "git".
	Binary string
}

func (g ExecGit) bin() string {
	if g.Binary == "" {
		return "git"
	}
	return g.Binary
}

func (g ExecGit) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, g.bin(), append([]string{"-C", dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Toplevel implements GitLog.
func (g ExecGit) Toplevel(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Log implements GitLog.
func (g ExecGit) Log(ctx context.Context, repo string, n int) ([]models.GitCommit, error) {
	out, err := g.run(ctx, repo, "log", "-n", strconv.Itoa(n),
		logFormat)
	if err != nil {
		// A repository without commits has no history to read.
		if msg := err.Error(); strings.Contains(msg, "does not have any commits") || strings.Contains(msg, "bad default revision") {
			return nil, nil
		}
		return nil, err
	}
	return parseLog(repo, string(out))
}

func parseLog(repo, out string) ([]models.GitCommit, error) {
	var commits []models.GitCommit
	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		fields := strings.SplitN(rec, fieldSep, 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("git log: malformed record %q", rec)
		}
		ts, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			return nil, fmt.Errorf("git log: commit %s: %w", fields[0], err)
		}
		commits = append(commits, models.GitCommit{
			Hash:       fields[0],
			Author:     fields[1],
			Timestamp:  ts,
			Message:    fields[3],
			Repository: repo,
		})
	}
	return commits, nil
}
