// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes session status, suggestions, reports and commit sync over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/timetrail/internal/models"
	"github.com/starford/timetrail/internal/reconcile"
	"github.com/starford/timetrail/internal/report"
	"github.com/starford/timetrail/internal/tracker"
)

// Sessions reads the current session and the catalog.
type Sessions interface {
	GetStatus(ctx context.Context) (tracker.Status, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
}

// Suggester ranks projects.
type Suggester interface {
	GenerateSuggestions(ctx context.Context, limit int) ([]models.Suggestion, error)
	SuggestForCurrentDirectory(dir string) (models.Suggestion, bool)
}

// CommitSyncer imports and links commits.
type CommitSyncer interface {
	SyncCommits(ctx context.Context) (reconcile.Result, error)
}

// Reporter renders time reports.
type Reporter interface {
	Generate(ctx context.Context, opts report.Options) (string, error)
}

// Server wraps the MCP server with timetrail tools.
type Server struct {
	mcp         *server.MCPServer
	sessions    Sessions
	suggestions Suggester
	commits     CommitSyncer
	reports     Reporter
}

// New creates a new MCP server with all tools registered.
func New(sessions Sessions, suggestions Suggester, commits CommitSyncer, reports Reporter) *Server {
	s := &Server{sessions: sessions, suggestions: suggestions, commits: commits, reports: reports}

	s.mcp = server.NewMCPServer(
		"timetrail",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Report the active or paused time tracking session and how long it has run."),
	), s.getStatus)

	s.mcp.AddTool(mcp.NewTool("suggest_project",
		mcp.WithDescription("Rank the projects the user is most likely working on, based on recent file activity."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of suggestions (default 5)"), mcp.Min(1)),
	), s.suggestProject)

	s.mcp.AddTool(mcp.NewTool("suggest_for_directory",
		mcp.WithDescription("Classify a directory against the configured project patterns."),
		mcp.WithString("dir", mcp.Required(), mcp.Description("Absolute directory path")),
	), s.suggestForDirectory)

	s.mcp.AddTool(mcp.NewTool("generate_report",
		mcp.WithDescription("Summarize tracked time over a window. Dates are RFC 3339 or YYYY-MM-DD."),
		mcp.WithString("from", mcp.Description("Window start")),
		mcp.WithString("to", mcp.Description("Window end; a bare date includes the whole day")),
		mcp.WithString("project", mcp.Description("Only this project")),
		mcp.WithString("task", mcp.Description("Only this task")),
		mcp.WithString("format", mcp.Description("markdown (default), json, csv or table"),
			mcp.Enum(string(report.FormatMarkdown), string(report.FormatJSON), string(report.FormatCSV), string(report.FormatTable))),
		mcp.WithString("group", mcp.Description("Group rows by project, task or date"),
			mcp.Enum(string(report.GroupProject), string(report.GroupTask), string(report.GroupDate))),
	), s.generateReport)

	s.mcp.AddTool(mcp.NewTool("sync_commits",
		mcp.WithDescription("Import recent git commits and link them to the completed sessions they fall within."),
	), s.syncCommits)

	s.mcp.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List registered projects with their directory patterns and repositories."),
	), s.listProjects)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.sessions.GetStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !st.Active {
		return mcp.NewToolResultText("no active session"), nil
	}
	out := map[string]any{
		"project": st.Entry.Project,
		"task":    st.Entry.Task,
		"status":  st.Entry.Status,
		"started": st.Entry.StartTime.Format(time.RFC3339),
		"elapsed": st.Elapsed.Round(time.Second).String(),
	}
	if st.Remaining > 0 {
		out["remaining"] = st.Remaining.Round(time.Second).String()
	}
	return jsonResult(out)
}

func (s *Server) suggestProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.suggestions.GenerateSuggestions(ctx, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no suggestions"), nil
	}
	return jsonResult(items)
}

func (s *Server) suggestForDirectory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := req.RequireString("dir")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sugg, ok := s.suggestions.SuggestForCurrentDirectory(dir)
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("no project matches %s", dir)), nil
	}
	return jsonResult(sugg)
}

func (s *Server) generateReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := report.ParseBound(req.GetString("from", ""), false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := report.ParseBound(req.GetString("to", ""), true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.reports.Generate(ctx, report.Options{
		From:    from,
		To:      to,
		Project: req.GetString("project", ""),
		Task:    req.GetString("task", ""),
		Format:  report.Format(req.GetString("format", string(report.FormatMarkdown))),
		GroupBy: report.GroupBy(req.GetString("group", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) syncCommits(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.commits.SyncCommits(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"imported":     res.Imported(),
		"linked":       res.Linked(),
		"repositories": res.Repositories,
	})
}

func (s *Server) listProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.sessions.ListProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(projects) == 0 {
		return mcp.NewToolResultText("no projects registered"), nil
	}
	return jsonResult(projects)
}
