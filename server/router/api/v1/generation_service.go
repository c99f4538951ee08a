package v1

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/labstack/echo/v5"

	"github.com/picarcade/picarcade/plugin/generation"
	"github.com/picarcade/picarcade/store"
)

const (
	defaultHistoryPage = 20
	rssItemLimit       = 50
)

type historyItem struct {
	GenerationID  string  `json:"generation_id"`
	Prompt        string  `json:"prompt"`
	Intent        string  `json:"intent,omitempty"`
	ModelUsed     string  `json:"model_used"`
	Success       bool    `json:"success"`
	OutputURL     string  `json:"output_url,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	ExecutionTime float64 `json:"execution_time"`
	CreatedAt     string  `json:"created_at"`
}

type setWorkingImageRequest struct {
	SessionID string `json:"session_id"`
	ImageURL  string `json:"image_url"`
	UserID    string `json:"user_id"`
}

func (s *APIV1Service) registerGenerationRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/generation")
	g.POST("/generate", s.generate)
	// :id is a user id for GET and a generation id for DELETE.
	g.GET("/history/:id", s.listHistory)
	g.DELETE("/history/:id", s.deleteHistoryItem)
	g.GET("/history/:id/rss", s.historyFeed)
	g.POST("/session/set-working-image", s.setWorkingImage)
	g.DELETE("/session/:sessionId", s.clearSession)
}

func (s *APIV1Service) generate(c *echo.Context) error {
	var req generation.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid generation request")
	}
	userID, err := s.requireUser(c, req.UserID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt required")
	}
	req.UserID = userID

	slog.Info("[GENERATION REQUEST]", "user", userID, "session", req.SessionID, "prompt", req.Prompt)
	result, err := s.Orchestrator.Generate(c.Request().Context(), &req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (s *APIV1Service) listHistory(c *echo.Context) error {
	userID, err := s.requireUser(c, c.Param("id"))
	if err != nil {
		return err
	}
	limit := defaultHistoryPage
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	list, err := s.Store.ListGenerations(c.Request().Context(), &store.FindGeneration{
		UserID: &userID,
		Limit:  &limit,
	})
	if err != nil {
		return httpError(err)
	}
	resp := make([]historyItem, 0, len(list))
	for _, g := range list {
		resp = append(resp, convertGeneration(g))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) deleteHistoryItem(c *echo.Context) error {
	userID, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	generationID := c.Param("id")
	ctx := c.Request().Context()
	list, err := s.Store.ListGenerations(ctx, &store.FindGeneration{GenerationID: &generationID})
	if err != nil {
		return httpError(err)
	}
	if len(list) == 0 || list[0].UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "generation not found")
	}
	if err := s.Store.DeleteGeneration(ctx, generationID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// historyFeed publishes the user's successful generations as RSS. It is public so
// feed readers can subscribe without a token.
func (s *APIV1Service) historyFeed(c *echo.Context) error {
	userID := c.Param("id")
	limit := rssItemLimit
	list, err := s.Store.ListGenerations(c.Request().Context(), &store.FindGeneration{
		UserID:      &userID,
		SuccessOnly: true,
		Limit:       &limit,
	})
	if err != nil {
		return httpError(err)
	}

	scheme := "http"
	if c.Request().TLS != nil {
		scheme = "https"
	}
	link := fmt.Sprintf("%s://%s/api/v1/generation/history/%s/rss", scheme, c.Request().Host, userID)
	feed := &feeds.Feed{
		Title:       "PicArcade generations",
		Link:        &feeds.Link{Href: link},
		Description: "Latest images generated by " + userID,
		Created:     time.Now(),
	}
	for _, g := range list {
		item := &feeds.Item{
			Id:          g.GenerationID,
			Title:       truncate(g.Prompt, 80),
			Link:        &feeds.Link{Href: g.OutputURL},
			Description: fmt.Sprintf("%s via %s", g.Prompt, g.ModelUsed),
			Created:     time.Unix(g.CreatedTs, 0),
		}
		if g.OutputURL != "" {
			item.Enclosure = &feeds.Enclosure{Url: g.OutputURL, Type: enclosureType(g.OutputURL), Length: "0"}
		}
		feed.Items = append(feed.Items, item)
	}
	rss, err := feed.ToRss()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}

func (s *APIV1Service) setWorkingImage(c *echo.Context) error {
	var req setWorkingImageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	userID, err := s.requireUser(c, req.UserID)
	if err != nil {
		return err
	}
	if req.SessionID == "" || req.ImageURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id and image_url required")
	}
	ctx := c.Request().Context()
	if err := s.checkSessionOwner(c, req.SessionID, userID); err != nil {
		return err
	}
	if err := s.Store.SetWorkingImage(ctx, req.SessionID, req.ImageURL, userID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":       true,
		"session_id":    req.SessionID,
		"working_image": req.ImageURL,
	})
}

func (s *APIV1Service) clearSession(c *echo.Context) error {
	userID, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	sessionID := c.Param("sessionId")
	if err := s.checkSessionOwner(c, sessionID, userID); err != nil {
		return err
	}
	if err := s.Store.ClearSession(c.Request().Context(), sessionID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// checkSessionOwner refuses access to sessions started by another user. Unknown
// sessions are open to anyone.
func (s *APIV1Service) checkSessionOwner(c *echo.Context, sessionID, userID string) error {
	sess, err := s.Store.GetGenerationSession(c.Request().Context(), sessionID)
	if err != nil {
		return httpError(err)
	}
	if sess != nil && sess.UserID != "" && sess.UserID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "permission denied")
	}
	return nil
}

func convertGeneration(g *store.Generation) historyItem {
	return historyItem{
		GenerationID:  g.GenerationID,
		Prompt:        g.Prompt,
		Intent:        g.Intent,
		ModelUsed:     g.ModelUsed,
		Success:       g.Success,
		OutputURL:     g.OutputURL,
		ErrorMessage:  g.ErrorMessage,
		ExecutionTime: g.ExecutionTime,
		CreatedAt:     time.Unix(g.CreatedTs, 0).UTC().Format(time.RFC3339),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func enclosureType(url string) string {
	switch {
	case strings.HasSuffix(url, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(url, ".webp"):
		return "image/webp"
	case strings.HasSuffix(url, ".jpg"), strings.HasSuffix(url, ".jpeg"):
		return "image/jpeg"
	default:
		return "image/png"
	}
}
