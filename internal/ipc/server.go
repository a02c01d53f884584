package ipc

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server wraps an HTTP server with engine-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, auth Authenticator, listenAddr string) *Server {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Routes(h, auth),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: srv}
}

// Routes builds the API handler tree.
func Routes(h *Handler, auth Authenticator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Turns stream server-sent events.
	mux.HandleFunc("POST /api/v1/analyze", requireAuth(auth, h.Analyze))
	mux.HandleFunc("POST /api/v1/chat", requireAuth(auth, h.Chat))

	mux.HandleFunc("GET /api/v1/sessions", requireAuth(auth, h.ListSessions))
	mux.HandleFunc("GET /api/v1/sessions/{id}", requireAuth(auth, h.GetSession))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", requireAuth(auth, h.DeleteSession))
	mux.HandleFunc("GET /api/v1/sessions/{id}/snapshots", requireAuth(auth, h.ListSnapshots))

	mux.HandleFunc("GET /api/v1/codes/search", requireAuth(auth, h.SearchCodes))
	mux.HandleFunc("GET /api/v1/codes/{code}", requireAuth(auth, h.GetCode))

	return corsMiddleware(logRequests(h.logger(), mux))
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers stream through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
