package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kmfx/internal/auth"
	"kmfx/internal/config"
	"kmfx/internal/ledger"
	"kmfx/internal/notify"
	"kmfx/internal/portal"
	"kmfx/internal/vault"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

type contextKey string

const principalContextKey contextKey = "principal"

type Server struct {
	cfg    config.APIConfig
	log    zerolog.Logger
	tokens *auth.Issuer
	ledger *ledger.Service
	portal *portal.Service
	inbox  *notify.Hub
	audit  *portal.AuditLog
	mux    *chi.Mux
}

type Deps struct {
	Tokens *auth.Issuer
	Ledger *ledger.Service
	Portal *portal.Service
	Inbox  *notify.Hub
	Audit  *portal.AuditLog
}

func New(cfg config.APIConfig, logger zerolog.Logger, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		log:    logger.With().Str("component", "api").Logger(),
		tokens: deps.Tokens,
		ledger: deps.Ledger,
		portal: deps.Portal,
		inbox:  deps.Inbox,
		audit:  deps.Audit,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/staff/login", s.handleStaffLogin)
		r.Post("/auth/client/login", s.handleClientLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me", s.handleMe)
			r.Get("/announcements", s.handleAnnouncements)
			r.Get("/ea-versions", s.handleEAVersions)
			r.Get("/ea-versions/{id}/download", s.handleEADownload)
			r.Get("/files/{id}/download", s.handleFileDownload)
			r.Get("/licenses/{id}/file", s.handleLicenseFile)

			r.Route("/client", func(r chi.Router) {
				r.Use(requireRole(auth.RoleClient))
				r.Get("/overview", s.handleClientOverview)
				r.Get("/profits", s.handleClientProfits)
				r.Get("/downline", s.handleClientDownline)
				r.Get("/withdrawals", s.handleClientWithdrawals)
				r.Post("/withdrawals", s.handleClientWithdrawalRequest)
				r.Get("/licenses", s.handleClientLicenses)
				r.Get("/files", s.handleClientFiles)
				r.Get("/messages", s.handleClientMessages)
				r.Post("/messages", s.handleClientMessageSend)
				r.Get("/notifications", s.handleClientNotifications)
				r.Post("/notifications/read", s.handleClientNotificationsRead)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(auth.RoleOwner, auth.RoleAdmin))
				r.Get("/dashboard", s.handleDashboard)

				r.Get("/accounts", s.handleAccountsList)
				r.Post("/accounts", s.handleAccountCreate)
				r.Get("/accounts/{id}", s.handleAccountGet)
				r.Patch("/accounts/{id}", s.handleAccountUpdate)
				r.Get("/accounts/{id}/downline", s.handleAccountDownline)
				r.Post("/accounts/{id}/login", s.handleAccountLogin)
				r.Get("/accounts/{id}/licenses", s.handleAccountLicenses)
				r.Post("/accounts/{id}/licenses", s.handleLicenseIssue)
				r.Get("/accounts/{id}/messages", s.handleAccountMessages)
				r.Post("/accounts/{id}/messages", s.handleAccountMessageSend)
				r.Get("/accounts/{id}/files", s.handleAccountFiles)
				r.Post("/accounts/{id}/files", s.handleAccountFileUpload)
				r.Delete("/files/{id}", s.handleFileDelete)

				r.Post("/profits", s.handleProfitPost)
				r.Get("/profits", s.handleProfitsList)

				r.Get("/withdrawals", s.handleWithdrawalsList)
				r.Post("/withdrawals", s.handleWithdrawalCreate)
				r.Post("/withdrawals/{id}/approve", s.handleWithdrawalApprove)
				r.Post("/withdrawals/{id}/reject", s.handleWithdrawalReject)

				r.Get("/messages", s.handleThreads)
				r.Post("/announcements", s.handleAnnouncementPost)
				r.Post("/ea-versions", s.handleEAUpload)

				r.Get("/reports/revenue", s.handleRevenue)
				r.Get("/reports/{kind}.csv", s.handleReportCSV)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(auth.RoleOwner))
				r.Get("/audit", s.handleAuditList)
				r.Post("/admins", s.handleAdminCreate)
			})
		})
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		p, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		actorID := p.Username
		if p.Role == auth.RoleClient {
			actorID = strconv.FormatInt(p.AccountID, 10)
		}
		ctx := context.WithValue(r.Context(), principalContextKey, p)
		ctx = portal.WithActor(ctx, string(p.Role), actorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := principalFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

func principalFromContext(ctx context.Context) (auth.Principal, error) {
	p, ok := ctx.Value(principalContextKey).(auth.Principal)
	if !ok || p.Role == "" {
		return auth.Principal{}, errors.New("missing auth context")
	}
	return p, nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"role":       p.Role,
		"username":   p.Username,
		"account_id": p.AccountID,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleStaffLogin(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, s.portal.AuthenticateStaff)
}

func (s *Server) handleClientLogin(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, s.portal.AuthenticateClient)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, check func(context.Context, string, string) (auth.Principal, error)) {
	var in loginRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := check(r.Context(), in.Username, in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.log.Warn().Str("username", in.Username).Msg("login rejected")
		}
		writeDomainError(w, err)
		return
	}
	token, exp, err := s.tokens.Issue(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   exp,
		"role":         p.Role,
		"username":     p.Username,
		"account_id":   p.AccountID,
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrDuplicateIdempotency):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, ledger.ErrInvalidSponsor), errors.Is(err, portal.ErrInvalidInput),
		errors.Is(err, vault.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrWithdrawalNotPending),
		errors.Is(err, portal.ErrUsernameUsed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrUnknownAccount), errors.Is(err, ledger.ErrWithdrawalNotFound),
		errors.Is(err, portal.ErrNotFound), errors.Is(err, notify.ErrNotFound), errors.Is(err, vault.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ledger.ErrPostingFailed), errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

// idempotencyKey returns the caller's Idempotency-Key. Postings without one
// are not deduplicated.
func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func queryDate(r *http.Request, name string) (*time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, nil
	}
	return parseDate(v)
}

func parseDate(v string) (*time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(v))
	if err != nil {
		return nil, errors.New("dates must be YYYY-MM-DD")
	}
	return &t, nil
}
