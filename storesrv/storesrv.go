// CLAUDE:SUMMARY Team snapshot store: chi-routed credentials API with JWT
// auth, sealed SQLite persistence and the uniform success envelope.

// Package storesrv implements the snapshot store: a small HTTP service
// where agents of a team push, list and delete shared session snapshots.
// Every response uses the uniform envelope {success, error, message, data}.
package storesrv

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/ravi-ivar-7/choco-sub000/audit"
	"github.com/ravi-ivar-7/choco-sub000/dbopen"
	"github.com/ravi-ivar-7/choco-sub000/safeguard"
	"github.com/ravi-ivar-7/choco-sub000/session"
	"github.com/ravi-ivar-7/choco-sub000/shield"
)

// Config configures a store server.
type Config struct {
	DBPath string
	// Secret signs agent tokens. From CHOCO_STORE_SECRET in production.
	Secret []byte
	// VaultKey encrypts credential payloads at rest. From CHOCO_VAULT_KEY.
	VaultKey []byte
	// TokenTTL bounds minted tokens. Default: 30 days.
	TokenTTL time.Duration
	Logger   *slog.Logger
}

// Server is the store's HTTP surface plus its persistence.
type Server struct {
	repo    *Repo
	db      *sql.DB
	secret  []byte
	ttl     time.Duration
	log     *slog.Logger
	router  chi.Router
	limiter *shield.RateLimiter
	trail   *audit.Trail
}

// New opens the database and assembles the server.
func New(cfg Config) (*Server, error) {
	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
		dbopen.WithSchema(shield.Schema),
		dbopen.WithSchema(audit.Schema))
	if err != nil {
		return nil, fmt.Errorf("storesrv: %w", err)
	}
	srv, err := NewOnDB(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return srv, nil
}

// NewOnDB assembles the server on an already-open database that has the
// schema applied. Used directly in tests with dbopen.OpenMemory.
func NewOnDB(db *sql.DB, cfg Config) (*Server, error) {
	if err := safeguard.ValidateSecret(cfg.Secret); err != nil {
		return nil, fmt.Errorf("storesrv: token secret: %w", err)
	}
	vault, err := NewVault(cfg.VaultKey)
	if err != nil {
		return nil, err
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		repo:   NewRepo(db, vault, nil),
		db:     db,
		secret: cfg.Secret,
		ttl:    cfg.TokenTTL,
		log:    cfg.Logger,
		trail:  audit.New(db, 256, cfg.Logger),
	}
	s.buildRouter()
	return s, nil
}

// Repo exposes the data layer for bootstrap tooling (team and member
// creation happens via CLI, not HTTP).
func (s *Server) Repo() *Repo { return s.repo }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// StartReloaders launches the rate limiter's background refresh, stopping
// when done closes.
func (s *Server) StartReloaders(done <-chan struct{}) {
	s.limiter.StartReloader(done)
}

// Close drains the audit trail and releases the database.
func (s *Server) Close() error {
	s.trail.Close()
	return s.db.Close()
}

func (s *Server) buildRouter() {
	r := chi.NewRouter()
	stack, limiter := shield.APIStack(s.db)
	s.limiter = limiter
	for _, mw := range stack {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/api/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(s.secret))
		r.Get("/api/auth/verify", s.handleVerify)
		r.Post("/api/credentials/store", s.handleStore)
		r.Get("/api/credentials/get", s.handleGet)
		r.Delete("/api/credentials/cleanup", s.handleCleanup)
		r.Get("/api/stats", s.handleStats)
		r.Get("/api/audit/recent", s.handleAuditRecent)
	})

	s.router = r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	member, err := s.repo.MemberByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.fail(w, r, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(req.Password)) != nil {
		s.trail.Record(audit.Entry{
			TeamID:   member.TeamID,
			MemberID: member.ID,
			Action:   audit.ActionLogin,
			TraceID:  shield.GetTraceID(r.Context()),
			Outcome:  audit.OutcomeDenied,
			Detail:   "password mismatch",
		})
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := MintToken(s.secret, member, s.ttl)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.trail.Record(audit.Entry{
		TeamID:   member.TeamID,
		MemberID: member.ID,
		Action:   audit.ActionLogin,
		TraceID:  shield.GetTraceID(r.Context()),
	})
	writeOK(w, "authenticated", map[string]any{
		"token":     token,
		"expiresAt": time.Now().Add(s.ttl).UTC().Format(time.RFC3339),
		"member":    map[string]string{"id": member.ID, "email": member.Email},
		"team":      map[string]string{"id": member.TeamID},
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	writeOK(w, "token valid", map[string]any{
		"member": map[string]string{"id": claims.MemberID, "email": claims.Email},
		"team":   map[string]string{"id": claims.TeamID},
	})
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var snap session.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot payload")
		return
	}
	if snap.Empty() {
		writeError(w, http.StatusBadRequest, "snapshot carries no credential data")
		return
	}

	id, err := s.repo.InsertCredential(r.Context(), claims.TeamID, &snap)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shield.GetLogger(r.Context()).Info("credential stored",
		"team", claims.TeamID, "credential", id, "source", snap.Source)
	s.trail.Record(audit.Entry{
		TeamID:       claims.TeamID,
		MemberID:     claims.MemberID,
		Action:       audit.ActionCredentialStore,
		CredentialID: id,
		TraceID:      shield.GetTraceID(r.Context()),
		Detail:       string(snap.Source),
	})
	writeOK(w, "credential stored", map[string]string{"credential": id})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	creds, err := s.repo.ListCredentials(r.Context(), claims.TeamID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if creds == nil {
		creds = []session.Snapshot{}
	}
	writeOK(w, "", map[string]any{
		"credentials": creds,
		"count":       len(creds),
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var deleted int
	var err error
	entry := audit.Entry{
		TeamID:   claims.TeamID,
		MemberID: claims.MemberID,
		TraceID:  shield.GetTraceID(r.Context()),
	}
	if id := r.URL.Query().Get("credentialId"); id != "" {
		if err := safeguard.ValidateIdentifier(id); err != nil {
			writeError(w, http.StatusBadRequest, "invalid credential id")
			return
		}
		deleted, err = s.repo.DeleteCredential(r.Context(), claims.TeamID, id)
		entry.Action = audit.ActionCredentialDelete
		entry.CredentialID = id
	} else {
		deleted, err = s.repo.PurgeCredentials(r.Context(), claims.TeamID)
		entry.Action = audit.ActionCredentialPurge
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entry.Detail = fmt.Sprintf("deleted %d", deleted)
	s.trail.Record(entry)
	shield.GetLogger(r.Context()).Info("credentials cleaned up",
		"team", claims.TeamID, "deleted", deleted)
	writeOK(w, "cleanup complete", map[string]int{"deletedCount": deleted})
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1-500")
			return
		}
		limit = n
	}

	entries, err := s.trail.Recent(r.Context(), claims.TeamID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeOK(w, "", map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	stats, err := s.repo.TeamStats(r.Context(), claims.TeamID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "", stats)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	shield.GetLogger(r.Context()).Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
