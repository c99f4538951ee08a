package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/internal/profile"
	"github.com/picarcade/picarcade/plugin/generation"
	"github.com/picarcade/picarcade/plugin/intent"
	"github.com/picarcade/picarcade/plugin/reasoning"
	"github.com/picarcade/picarcade/plugin/replicate"
	"github.com/picarcade/picarcade/plugin/storage/s3"
	"github.com/picarcade/picarcade/plugin/vectorstore"
	apiv1 "github.com/picarcade/picarcade/server/router/api/v1"
	mcpserver "github.com/picarcade/picarcade/server/router/mcp"
	"github.com/picarcade/picarcade/store"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	httpServer *http.Server
}

// NewServer assembles the generation pipeline and the HTTP and MCP routes.
// Optional integrations (reasoning, vector search, object storage) are skipped
// with a warning when their configuration is incomplete.
func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Secret:  profile.JWTSecret,
		Profile: profile,
		Store:   store,
	}

	client := replicate.NewClient(profile.ReplicateURL, profile.ReplicateToken,
		replicate.WithPolling(profile.PollAttempts, profile.PollInterval))

	reasoner, err := reasoning.NewFromProfile(profile, client)
	if err != nil {
		slog.Warn("remote intent reasoning disabled, using heuristic classification", "err", err)
	}
	classifier := intent.NewClassifier(reasoner)
	router := generation.NewRouter(generation.NewReplicateProvider(client), nil)

	var opts []generation.Option
	var vs *vectorstore.Store
	if profile.EmbeddingURL != "" {
		vs, err = vectorstore.New(profile.Data, vectorstore.NewEmbeddingFunc(profile.EmbeddingURL, profile.EmbeddingKey, profile.EmbeddingModel))
		if err != nil {
			return nil, errors.Wrap(err, "failed to open vector store")
		}
		opts = append(opts, generation.WithSuggester(vs))
	}
	var objects *s3.Client
	if profile.S3Bucket != "" {
		objects, err = s3.NewClient(ctx, &s3.Config{
			Bucket:       profile.S3Bucket,
			Region:       profile.S3Region,
			Endpoint:     profile.S3Endpoint,
			AccessKey:    profile.S3AccessKey,
			SecretKey:    profile.S3SecretKey,
			URLPrefix:    profile.S3URLPrefix,
			UsePathStyle: profile.S3Endpoint != "",
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create s3 client")
		}
		opts = append(opts, generation.WithMirror(objects))
	}
	orchestrator := generation.NewOrchestrator(store, classifier, router, opts...)

	echoServer := echo.New()
	echoServer.Use(middleware.Recover())
	echoServer.GET("/healthz", func(c *echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	apiV1Service := apiv1.NewAPIV1Service(s.Secret, profile, store, orchestrator)
	if vs != nil {
		apiV1Service.VectorStore = vs
	}
	if objects != nil {
		apiV1Service.Uploader = objects
	}
	apiV1Service.RegisterRoutes(echoServer)

	mcpService := mcpserver.NewMCPService(store, classifier, orchestrator, s.Secret, profile.Version)
	echoServer.Any(mcpserver.EndpointPath, echo.WrapHandler(mcpService.Handler()))

	s.echoServer = echoServer
	s.httpServer = &http.Server{
		Handler:           echoServer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to serve", "err", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	slog.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}
	slog.Info("picarcade stopped properly")
}

// Handler exposes the routes, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}
