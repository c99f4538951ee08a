// Package mcp exposes mention parsing, intent classification, the reference catalog
// and generation as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/picarcade/picarcade/plugin/generation"
	"github.com/picarcade/picarcade/plugin/intent"
	"github.com/picarcade/picarcade/plugin/mention"
	"github.com/picarcade/picarcade/plugin/reference"
	"github.com/picarcade/picarcade/server/auth"
	"github.com/picarcade/picarcade/store"
)

const EndpointPath = "/mcp"

type userIDKey struct{}

// WithUserID returns ctx carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

type MCPService struct {
	store         *store.Store
	classifier    *intent.Classifier
	orchestrator  *generation.Orchestrator
	authenticator *auth.Authenticator
	server        *server.MCPServer
}

func NewMCPService(store *store.Store, classifier *intent.Classifier, orchestrator *generation.Orchestrator, secret, version string) *MCPService {
	s := &MCPService{
		store:         store,
		classifier:    classifier,
		orchestrator:  orchestrator,
		authenticator: auth.NewAuthenticator(secret),
		server:        server.NewMCPServer("picarcade", version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// Handler serves the tools over streamable HTTP. Requests are authenticated with
// the same bearer tokens as the HTTP API.
func (s *MCPService) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server,
		server.WithEndpointPath(EndpointPath),
		server.WithHTTPContextFunc(s.authenticate),
	)
}

func (s *MCPService) authenticate(ctx context.Context, r *http.Request) context.Context {
	userID, err := s.authenticator.Authenticate(r.Header.Get("Authorization"), r.Header.Get("Cookie"))
	if err != nil {
		return ctx
	}
	return WithUserID(ctx, userID)
}

func (s *MCPService) registerTools() {
	s.server.AddTool(mcp.NewTool("parse_mentions",
		mcp.WithDescription("List the @tag mentions in a prompt, in order of appearance."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Prompt text")),
	), s.parseMentions)

	s.server.AddTool(mcp.NewTool("classify_intent",
		mcp.WithDescription("Classify what a prompt asks for and which back end should serve it."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Prompt text, may contain @tag mentions")),
		mcp.WithString("active_image_url", mcp.Description("Image currently being worked on")),
		mcp.WithArray("uploaded_images", mcp.Description("Uploaded image URLs"), mcp.WithStringItems()),
	), s.classifyIntent)

	s.server.AddTool(mcp.NewTool("list_references",
		mcp.WithDescription("List the caller's saved reference images."),
		mcp.WithString("category", mcp.Description("Only list this category"),
			mcp.Enum("characters", "locations", "objects", "styles", "general")),
	), s.listReferences)

	s.server.AddTool(mcp.NewTool("generate",
		mcp.WithDescription("Generate or edit an image from a prompt, resolving @tag references."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Prompt text")),
		mcp.WithString("session_id", mcp.Description("Conversation to continue")),
		mcp.WithString("quality_priority", mcp.Enum("speed", "balanced", "quality")),
		mcp.WithString("current_working_image", mcp.Description("Image to edit")),
		mcp.WithArray("uploaded_images", mcp.Description("Uploaded image URLs"), mcp.WithStringItems()),
	), s.generate)
}

func (s *MCPService) parseMentions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mentions := mention.Parse(prompt)
	return jsonResult(map[string]any{
		"mentions": mentions,
		"unique":   mention.Unique(mentions),
	})
}

func (s *MCPService) classifyIntent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := userIDFrom(ctx)
	if userID == "" {
		return mcp.NewToolResultError("unauthorized"), nil
	}
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	mentions := mention.Parse(prompt)
	in := &intent.Input{
		Prompt:         prompt,
		Mentions:       mentions,
		ActiveImageURL: req.GetString("active_image_url", ""),
		UploadedImages: req.GetStringSlice("uploaded_images", nil),
	}
	if len(mentions) > 0 {
		catalog, err := s.store.ListReferences(ctx, &store.FindReference{UserID: &userID})
		if err != nil {
			return nil, err
		}
		resolved, _ := reference.Resolve(mentions, catalog)
		for _, ref := range resolved {
			in.References = append(in.References, intent.ReferenceImage{Tag: ref.Tag, URL: ref.ImageURL, Description: ref.Description})
		}
	}
	return jsonResult(s.classifier.Classify(ctx, in))
}

func (s *MCPService) listReferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := userIDFrom(ctx)
	if userID == "" {
		return mcp.NewToolResultError("unauthorized"), nil
	}
	find := &store.FindReference{UserID: &userID}
	if raw := req.GetString("category", ""); raw != "" {
		category := store.ReferenceCategory(raw)
		if !category.Valid() {
			return mcp.NewToolResultError("unknown category " + raw), nil
		}
		find.Category = &category
	}
	refs, err := s.store.ListReferences(ctx, find)
	if err != nil {
		return nil, err
	}
	type entry struct {
		Tag         string `json:"tag"`
		DisplayName string `json:"display_name,omitempty"`
		Category    string `json:"category"`
		ImageURL    string `json:"image_url"`
	}
	out := make([]entry, 0, len(refs))
	for _, ref := range refs {
		out = append(out, entry{Tag: ref.Tag, DisplayName: ref.DisplayName, Category: string(ref.Category), ImageURL: ref.ImageURL})
	}
	return jsonResult(out)
}

func (s *MCPService) generate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := userIDFrom(ctx)
	if userID == "" {
		return mcp.NewToolResultError("unauthorized"), nil
	}
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	slog.Info("[MCP GENERATE]", "user", userID, "prompt", prompt)
	result, err := s.orchestrator.Generate(ctx, &generation.Request{
		Prompt:              prompt,
		UserID:              userID,
		SessionID:           req.GetString("session_id", ""),
		QualityPriority:     generation.QualityPriority(req.GetString("quality_priority", string(generation.QualityBalanced))),
		CurrentWorkingImage: req.GetString("current_working_image", ""),
		UploadedImages:      req.GetStringSlice("uploaded_images", nil),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !result.Success {
		return mcp.NewToolResultError(result.ErrorMessage), nil
	}
	return jsonResult(result)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
