// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the maturity assessment tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/assessment"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/bundle"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/catalog"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/models"
)

const (
	catalogURI = "mitasat://catalog"
	guideURI   = "mitasat://scoring-guide"
)

// Server wraps the MCP server with assessment tools.
type Server struct {
	mcp *server.MCPServer
	svc *assessment.Service
}

// New creates a new MCP server with all assessment tools registered.
func New(svc *assessment.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"MITA SS-A",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_catalog",
		mcp.WithDescription("List the dimensions, aspects, business domains and capability areas that can be rated."),
	), s.getCatalog)

	s.mcp.AddTool(mcp.NewTool("get_scores",
		mcp.WithDescription("Return the current assessment of one capability area with its dimension and overall scores."),
		mcp.WithString("area_id", mcp.Required(), mcp.Description("Capability area id (e.g. providerEnrollment)")),
	), s.getScores)

	s.mcp.AddTool(mcp.NewTool("get_rollup",
		mcp.WithDescription("Return per-domain scores computed from finalized assessments."),
	), s.getRollup)

	s.mcp.AddTool(mcp.NewTool("list_history",
		mcp.WithDescription("List the finalized snapshots of one capability area, newest first."),
		mcp.WithString("area_id", mcp.Required(), mcp.Description("Capability area id")),
	), s.listHistory)

	s.mcp.AddTool(mcp.NewTool("save_rating",
		mcp.WithDescription("Rate one aspect of a capability area. "+
			"Levels run 1 to 5, 0 means not yet rated and -1 means not applicable. "+
			"Read the scoring guide via the mitasat://scoring-guide resource first."),
		mcp.WithString("area_id", mcp.Required(), mcp.Description("Capability area id")),
		mcp.WithString("aspect_id", mcp.Required(), mcp.Description("Aspect id from get_catalog")),
		mcp.WithNumber("level", mcp.Required(), mcp.Description("Maturity level: -1, 0 or 1..5")),
		mcp.WithString("notes", mcp.Description("Optional free-text notes")),
	), s.saveRating)

	s.mcp.AddTool(mcp.NewTool("finalize",
		mcp.WithDescription("Finalize the current assessment of a capability area and snapshot it into history."),
		mcp.WithString("area_id", mcp.Required(), mcp.Description("Capability area id")),
	), s.finalize)

	s.mcp.AddTool(mcp.NewTool("import_bundle",
		mcp.WithDescription("Merge an export bundle (.json or .zip) from a local path into the local data. "+
			"Local records are never deleted; older incoming records become history."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the bundle file")),
		mcp.WithBoolean("dry_run", mcp.Description("Only report what would happen")),
	), s.importBundle)

	s.mcp.AddTool(mcp.NewTool("export_bundle",
		mcp.WithDescription("Write every assessment, rating and history record to a local file. "+
			"A .zip path also carries attachment contents."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Destination path ending in .json or .zip")),
	), s.exportBundle)

	s.mcp.AddTool(mcp.NewTool("attach_evidence",
		mcp.WithDescription("Store an evidence file for a rating. Provide content as a base64 data URI."),
		mcp.WithString("rating_id", mcp.Required(), mcp.Description("Id of the rating the file supports")),
		mcp.WithString("data", mcp.Required(), mcp.Description("data:<mime>;base64,<payload>")),
		mcp.WithString("filename", mcp.Description("Optional file name (derived from the MIME type if empty)")),
	), s.attachEvidence)

	s.mcp.AddResource(
		mcp.NewResource(catalogURI, "Assessment Catalog",
			mcp.WithResourceDescription("Dimensions, aspects and capability areas as JSON."),
			mcp.WithMIMEType("application/json"),
		),
		s.readCatalogResource,
	)
	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Scoring Guide",
			mcp.WithResourceDescription("How ratings roll up into dimension, area and domain scores."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

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

type catalogView struct {
	Version      string              `json:"version"`
	TotalAspects int                 `json:"totalAspects"`
	Dimensions   []catalog.Dimension `json:"dimensions"`
	Domains      []catalog.Domain    `json:"domains"`
}

func (s *Server) catalogView() catalogView {
	cat := s.svc.Catalog()
	return catalogView{
		Version:      cat.Version(),
		TotalAspects: cat.TotalAspectCount(),
		Dimensions:   cat.Dimensions(),
		Domains:      cat.Domains(),
	}
}

func (s *Server) getCatalog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.catalogView())
}

func (s *Server) getScores(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	areaID, err := req.RequireString("area_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sc, err := s.svc.Scores(ctx, areaID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sc)
}

func (s *Server) getRollup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := s.svc.Rollup(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(r)
}

func (s *Server) listHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	areaID, err := req.RequireString("area_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hs, err := s.svc.History(ctx, areaID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(hs) == 0 {
		return mcp.NewToolResultText("no history found"), nil
	}
	return jsonResult(hs)
}

func (s *Server) saveRating(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	areaID, err := req.RequireString("area_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	aspectID, err := req.RequireString("aspect_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	level, err := req.RequireInt("level")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	loc, ok := s.svc.Catalog().Locate(aspectID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown aspect: %s", aspectID)), nil
	}
	sc, err := s.svc.SaveRating(ctx, areaID, models.Rating{
		DimensionID:    loc.DimensionID,
		SubDimensionID: loc.SubDimensionID,
		AspectID:       aspectID,
		CurrentLevel:   level,
		Notes:          req.GetString("notes", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sc)
}

func (s *Server) finalize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	areaID, err := req.RequireString("area_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Finalize(ctx, areaID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) importBundle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	src, err := bundle.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var rep *assessment.Report
	if req.GetBool("dry_run", false) {
		rep, err = s.svc.Preview(ctx, src)
	} else {
		rep, err = s.svc.Import(ctx, src, nil)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

func (s *Server) exportBundle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, blobs, err := s.svc.Export(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := bundle.WriteFile(path, b, blobs); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m := b.Metadata
	return mcp.NewToolResultText(fmt.Sprintf("exported to %s: %d assessments, %d ratings, %d history entries",
		path, m.AssessmentCount, m.RatingCount, m.HistoryCount)), nil
}

func (s *Server) readCatalogResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(s.catalogView(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      catalogURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}

func (s *Server) readGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     ScoringGuide,
		},
	}, nil
}
