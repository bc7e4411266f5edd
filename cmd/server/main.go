package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/chat"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/config"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/handlers"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/realtime"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/store"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	// Load configuration from environment
	cfg := config.Load()

	// Pick the persistence backend
	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}

	// Event plumbing: one in-process bus, one subscription manager owned here
	bus := realtime.NewBus()
	manager := realtime.NewManager(bus)
	defer manager.DisposeAll()

	// Messaging core
	svc := chat.NewService(st, bus, nil, nil)

	// WebSocket hub streaming conversation events to UI clients
	hub := websocket.NewHub(manager)
	go hub.Run()

	// Initialize handlers
	conversationHandler := handlers.NewConversationHandler(svc)
	messageHandler := handlers.NewMessageHandler(svc)
	wsHandler := websocket.NewHandler(hub, svc)

	// Set up router with middleware
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// CORS configuration - reads from CORS_ORIGINS env var
	// Format: comma-separated list of origins, e.g., "http://localhost:5173,https://devcom.example.com"
	corsOrigins := getCorsOrigins()
	log.Printf("CORS allowed origins: %v", corsOrigins)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", handlers.HealthCheck)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.ResolveConversation)
			r.Get("/{id}/messages", conversationHandler.GetMessages)
			r.Post("/{id}/messages", conversationHandler.SendMessage)
		})
		r.Route("/messages", func(r chi.Router) {
			r.Patch("/{id}", messageHandler.EditMessage)
			r.Delete("/{id}", messageHandler.DeleteMessage)
		})
	})

	// WebSocket event stream
	r.Get("/ws/conversations/{id}", wsHandler.ServeWS)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("devCom messaging backend starting on %s", addr)
	log.Fatal(http.ListenAndServe(addr, r))
}

// openStore selects postgres, the hosted REST service, or the in-memory
// store based on configuration.
func openStore(cfg *config.Config) (store.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("db ping: %w", err)
		}
		pg := store.NewPostgres(db)
		if err := pg.Migrate(context.Background()); err != nil {
			return nil, err
		}
		log.Println("Using postgres store")
		return pg, nil

	case cfg.RestURL != "":
		log.Printf("Using hosted REST store at %s", cfg.RestURL)
		return store.NewREST(cfg.RestURL, cfg.RestKey), nil

	default:
		log.Println("Using in-memory store")
		return store.NewMemory(), nil
	}
}

// getCorsOrigins returns allowed CORS origins from environment or defaults
func getCorsOrigins() []string {
	originsEnv := os.Getenv("CORS_ORIGINS")
	if originsEnv == "" {
		// Default to localhost for development
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}

	// Split comma-separated origins and trim whitespace
	origins := strings.Split(originsEnv, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	return origins
}
