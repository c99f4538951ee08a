package v1

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/picarcade/picarcade/plugin/filter"
	"github.com/picarcade/picarcade/plugin/mention"
	"github.com/picarcade/picarcade/plugin/reference"
	"github.com/picarcade/picarcade/store"
)

const defaultSearchLimit = 5

type referenceResponse struct {
	ID                 string `json:"id"`
	UserID             string `json:"user_id"`
	Tag                string `json:"tag"`
	DisplayName        string `json:"display_name,omitempty"`
	ImageURL           string `json:"image_url"`
	ThumbnailURL       string `json:"thumbnail_url,omitempty"`
	Description        string `json:"description,omitempty"`
	Category           string `json:"category"`
	SourceType         string `json:"source_type"`
	SourceGenerationID string `json:"source_generation_id,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

type createReferenceRequest struct {
	Tag                string `json:"tag"`
	ImageURL           string `json:"image_url"`
	ThumbnailURL       string `json:"thumbnail_url"`
	DisplayName        string `json:"display_name"`
	Description        string `json:"description"`
	Category           string `json:"category"`
	SourceType         string `json:"source_type"`
	SourceGenerationID string `json:"source_generation_id"`
}

type updateReferenceRequest struct {
	NewTag      *string `json:"new_tag"`
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

type searchResult struct {
	Reference referenceResponse `json:"reference"`
	Score     float32           `json:"score"`
}

func (s *APIV1Service) registerReferenceRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/references")
	g.GET("/", s.listReferences)
	g.POST("/", s.createReference)
	g.GET("/check/:prompt", s.checkReferences)
	g.GET("/search", s.searchReferences)
	g.PUT("/:tag", s.updateReference)
	g.DELETE("/:tag", s.deleteReference)
}

func (s *APIV1Service) listReferences(c *echo.Context) error {
	userID, err := s.requireUser(c, c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	find := &store.FindReference{UserID: &userID}
	if raw := c.QueryParam("category"); raw != "" && raw != "all" {
		category := store.ReferenceCategory(raw)
		if !category.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown category "+raw)
		}
		find.Category = &category
	}
	refs, err := s.Store.ListReferences(c.Request().Context(), find)
	if err != nil {
		return httpError(err)
	}
	if expr := c.QueryParam("filter"); expr != "" {
		prg, err := filter.Compile(expr)
		if err != nil {
			return httpError(err)
		}
		if refs, err = prg.Apply(refs); err != nil {
			return httpError(err)
		}
	}
	resp := make([]referenceResponse, 0, len(refs))
	for _, ref := range refs {
		resp = append(resp, convertReference(ref))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) createReference(c *echo.Context) error {
	userID, err := s.requireUser(c, c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	var req createReferenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reference")
	}
	if req.ImageURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "image_url required")
	}
	ctx := c.Request().Context()

	tag := req.Tag
	if tag == "" && req.DisplayName != "" {
		existing, err := s.Store.ListReferences(ctx, &store.FindReference{UserID: &userID})
		if err != nil {
			return httpError(err)
		}
		tags := make([]string, 0, len(existing))
		for _, ref := range existing {
			tags = append(tags, ref.Tag)
		}
		tag = reference.UniqueTag(req.DisplayName, tags)
	}
	if err := reference.ValidateTag(tag); err != nil {
		return httpError(err)
	}
	category := store.ReferenceCategory(req.Category)
	if category != "" && !category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category "+req.Category)
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = reference.DisplayName(tag)
	}

	ref, err := s.Store.CreateReference(ctx, &store.Reference{
		UserID:             userID,
		Tag:                tag,
		DisplayName:        displayName,
		Description:        req.Description,
		ImageURL:           req.ImageURL,
		ThumbnailURL:       req.ThumbnailURL,
		Category:           category,
		SourceType:         store.ReferenceSourceType(req.SourceType),
		SourceGenerationID: req.SourceGenerationID,
	})
	if err != nil {
		return httpError(err)
	}
	s.indexReference(c, ref)
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "reference": convertReference(ref)})
}

func (s *APIV1Service) updateReference(c *echo.Context) error {
	userID, err := s.requireUser(c, c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	var req updateReferenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reference update")
	}
	update := &store.UpdateReference{
		DisplayName: req.DisplayName,
		Description: req.Description,
	}
	if req.NewTag != nil && *req.NewTag != "" {
		if err := reference.ValidateTag(*req.NewTag); err != nil {
			return httpError(err)
		}
		update.Tag = req.NewTag
	}
	if req.Category != nil {
		category := store.ReferenceCategory(*req.Category)
		if !category.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown category "+*req.Category)
		}
		update.Category = &category
	}

	ref, err := s.Store.UpdateReference(c.Request().Context(), userID, c.Param("tag"), update)
	if err != nil {
		return httpError(err)
	}
	s.indexReference(c, ref)
	return c.JSON(http.StatusOK, map[string]any{"success": true, "reference": convertReference(ref)})
}

func (s *APIV1Service) deleteReference(c *echo.Context) error {
	userID, err := s.requireUser(c, c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	tag := c.Param("tag")
	ctx := c.Request().Context()
	ref, err := s.Store.GetReference(ctx, &store.FindReference{UserID: &userID, Tag: &tag})
	if err != nil {
		return httpError(err)
	}
	if err := s.Store.DeleteReference(ctx, userID, tag); err != nil {
		return httpError(err)
	}
	if s.VectorStore != nil && ref != nil {
		if err := s.VectorStore.DeleteReference(ctx, userID, ref.ID); err != nil {
			slog.Warn("failed to drop reference from vector index", "reference", ref.ID, "err", err)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// checkReferences reports the @mentions found in a prompt.
func (s *APIV1Service) checkReferences(c *echo.Context) error {
	if _, err := s.requireAuth(c); err != nil {
		return err
	}
	prompt := c.Param("prompt")
	if unescaped, err := url.PathUnescape(prompt); err == nil {
		prompt = unescaped
	}
	mentions := mention.Unique(mention.Parse(prompt))
	return c.JSON(http.StatusOK, map[string]any{
		"has_references": len(mentions) > 0,
		"mentions":       mentions,
		"count":          len(mentions),
	})
}

func (s *APIV1Service) searchReferences(c *echo.Context) error {
	userID, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	if s.VectorStore == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reference search is not configured")
	}
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	limit := defaultSearchLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	ctx := c.Request().Context()
	hits, err := s.VectorStore.SearchSimilar(ctx, userID, query, limit)
	if err != nil {
		return httpError(err)
	}
	resp := make([]searchResult, 0, len(hits))
	for _, hit := range hits {
		id := hit.ReferenceID
		ref, err := s.Store.GetReference(ctx, &store.FindReference{ID: &id, UserID: &userID})
		if err != nil {
			return httpError(err)
		}
		if ref == nil {
			// Index entries can outlive their reference.
			continue
		}
		resp = append(resp, searchResult{Reference: convertReference(ref), Score: hit.Score})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) indexReference(c *echo.Context, ref *store.Reference) {
	if s.VectorStore == nil {
		return
	}
	if err := s.VectorStore.UpsertReference(c.Request().Context(), ref); err != nil {
		slog.Warn("failed to index reference", "reference", ref.ID, "err", err)
	}
}

func convertReference(ref *store.Reference) referenceResponse {
	return referenceResponse{
		ID:                 ref.ID,
		UserID:             ref.UserID,
		Tag:                ref.Tag,
		DisplayName:        ref.DisplayName,
		ImageURL:           ref.ImageURL,
		ThumbnailURL:       ref.ThumbnailURL,
		Description:        ref.Description,
		Category:           string(ref.Category),
		SourceType:         string(ref.SourceType),
		SourceGenerationID: ref.SourceGenerationID,
		CreatedAt:          time.Unix(ref.CreatedTs, 0).UTC().Format(time.RFC3339),
		UpdatedAt:          time.Unix(ref.UpdatedTs, 0).UTC().Format(time.RFC3339),
	}
}
