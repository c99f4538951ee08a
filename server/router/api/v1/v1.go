package v1

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/internal/profile"
	"github.com/picarcade/picarcade/plugin/filter"
	"github.com/picarcade/picarcade/plugin/generation"
	"github.com/picarcade/picarcade/plugin/reference"
	"github.com/picarcade/picarcade/plugin/storage/image"
	"github.com/picarcade/picarcade/plugin/vectorstore"
	"github.com/picarcade/picarcade/server/auth"
	"github.com/picarcade/picarcade/store"
)

// Uploader stores a blob and returns the URL it is served from.
type Uploader interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (string, error)
}

type APIV1Service struct {
	Secret       string
	Profile      *profile.Profile
	Store        *store.Store
	Orchestrator *generation.Orchestrator
	// VectorStore and Uploader are optional.
	VectorStore *vectorstore.Store
	Uploader    Uploader
}

func NewAPIV1Service(secret string, profile *profile.Profile, store *store.Store, orchestrator *generation.Orchestrator) *APIV1Service {
	return &APIV1Service{
		Secret:       secret,
		Profile:      profile,
		Store:        store,
		Orchestrator: orchestrator,
	}
}

// RegisterRoutes mounts every /api/v1 route on e.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/auth/validate", s.validateToken)
	s.registerGenerationRoutes(e)
	s.registerReferenceRoutes(e)
	s.registerUploadRoutes(e)
}

// requireAuth returns the id of the user the request's access token was issued for.
func (s *APIV1Service) requireAuth(c *echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	cookieHeader := c.Request().Header.Get("Cookie")
	userID, err := auth.NewAuthenticator(s.Secret).Authenticate(authHeader, cookieHeader)
	if err != nil || userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return userID, nil
}

// requireUser authenticates the request and checks that a user id named by the
// client, if any, is the caller's own.
func (s *APIV1Service) requireUser(c *echo.Context, claimed string) (string, error) {
	userID, err := s.requireAuth(c)
	if err != nil {
		return "", err
	}
	if claimed != "" && claimed != userID {
		return "", echo.NewHTTPError(http.StatusForbidden, "permission denied")
	}
	return userID, nil
}

func (s *APIV1Service) validateToken(c *echo.Context) error {
	userID, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"valid": true, "user_id": userID})
}

// httpError maps domain errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, store.ErrReferenceExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrReferenceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, reference.ErrInvalidTag),
		errors.Is(err, filter.ErrInvalidFilter),
		errors.Is(err, image.ErrUnsupportedFormat):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
