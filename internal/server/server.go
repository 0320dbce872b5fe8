// Package server wires the authentication and upload services to HTTP
// routes. Handlers depend on narrow service interfaces so tests can run
// against stubs.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"ztransfer/internal/auth"
	"ztransfer/internal/upload"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
}

// AuthService is the authentication surface the routes consume.
type AuthService interface {
	CreateInvite(ctx context.Context, email, role string, createdBy *int64) (auth.Invite, string, error)
	ConsumeInvite(ctx context.Context, rawToken, email, password string) (auth.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (auth.User, error)
	CreateSession(ctx context.Context, userID int64, ip, userAgent string) (string, error)
	RevokeSession(ctx context.Context, rawToken string) error
	ResolveUserFromSession(ctx context.Context, rawToken string) (*auth.User, error)
	UsersExist(ctx context.Context) (bool, error)
}

// UploadService is the upload surface the routes consume.
type UploadService interface {
	StoreUpload(ctx context.Context, user auth.User, r io.Reader, filename, contentType string) (upload.Upload, string, string, error)
	ResolveDownload(ctx context.Context, downloadToken string) (*upload.Upload, error)
	Open(ctx context.Context, up *upload.Upload) (io.ReadCloser, error)
	DeleteByToken(ctx context.Context, downloadToken, rawDeleteToken string) error
}

// Config assembles everything the route layer needs.
type Config struct {
	Addr    string
	BaseURL string
	Build   BuildInfo

	DB      *sql.DB
	Auth    AuthService
	Uploads UploadService
	CSRF    *auth.CSRF

	SessionCookie string
	CSRFCookie    string
	CookieSecure  bool
	SessionTTL    time.Duration

	// BootstrapToken guards the one-time admin invite; empty disables it.
	BootstrapToken string

	// MaxSizeBytes bounds request bodies on the upload route as a
	// transport-level backstop; the storage layer enforces the real limit.
	MaxSizeBytes int64

	// StorageCheck, when set, is consulted by the readiness probe.
	StorageCheck func() error
}

// Server hosts the HTTP API.
type Server struct {
	cfg        Config
	httpServer *http.Server
}

// New builds the route table and middleware chain.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)

	// The auth surface is the obvious brute-force target; cap attempts per IP.
	authLimiter := newRateLimiter(30, time.Minute)
	mux.Handle("/auth/invite/bootstrap", authLimiter.middleware(http.HandlerFunc(s.handleBootstrapInvite)))
	mux.Handle("/auth/invite/accept", authLimiter.middleware(http.HandlerFunc(s.handleAcceptInvite)))
	mux.Handle("/auth/login", authLimiter.middleware(http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("/auth/logout", s.handleLogout)

	mux.HandleFunc("/files", s.handleUpload)
	mux.HandleFunc("/files/", s.handleDeleteUpload)
	mux.HandleFunc("/d/", s.handleDownload)

	var handler http.Handler = mux
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<html><body><h1>ZTransfer</h1><p>Authenticated uploads via POST /files.</p></body></html>"))
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail emits the {"detail": ...} error shape used across the API.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
