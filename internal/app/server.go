package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/corpora-hq/corpora/internal/api/handlers"
	appMiddleware "github.com/corpora-hq/corpora/internal/api/middlewares"
	"github.com/corpora-hq/corpora/internal/config"
	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/core/ingest"
	"github.com/corpora-hq/corpora/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	users *services.UserService,
	docs *services.DocumentService,
	dispatcher *ingest.Dispatcher,
	orch *ingest.Orchestrator,
	vectors core.VectorStore,
	llm core.LLMProvider,
) *Server {
	authHandler := handlers.NewAuthHandler(users)
	docHandler := handlers.NewDocumentHandler(docs, dispatcher, orch)
	folderHandler := handlers.NewFolderHandler(docs, orch)
	chatHandler := handlers.NewChatHandler(vectors, llm)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware)

			protected.Post("/documents/upload", docHandler.UploadDocuments)
			protected.Post("/documents/youtube", docHandler.IngestYouTube)
			protected.Get("/documents", docHandler.GetDocuments)
			protected.Get("/documents/{id}", docHandler.GetDocument)
			protected.Delete("/documents/{id}", docHandler.DeleteDocument)

			protected.Get("/folders", folderHandler.ListFolders)
			protected.Delete("/folders/{name}", folderHandler.DeleteFolder)
			protected.Post("/folders/{name}/rename", folderHandler.RenameFolder)

			protected.Post("/chat/query", chatHandler.Query)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	slog.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
