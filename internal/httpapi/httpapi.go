package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"fourcash/backend/internal/apperr"
	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/service"
)

// EventDispatcher routes a raw store change event.
type EventDispatcher interface {
	DispatchPayload(ctx context.Context, data []byte) error
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	events        EventDispatcher
	pushToken     string
	allowedOrigin string
	loginLimiter  *attemptLimiter
	log           logrus.FieldLogger
}

type Options struct {
	AllowedOrigin string
	// PushToken must match the X-Push-Token header of event pushes. Without
	// it the push endpoint is not served, even when Events is set.
	PushToken string
	Events    EventDispatcher
}

func New(svc *service.Service, auth *AuthManager, log logrus.FieldLogger, opts Options) *API {
	events := opts.Events
	if opts.PushToken == "" {
		events = nil
	}
	return &API{
		service:       svc,
		auth:          auth,
		events:        events,
		pushToken:     opts.PushToken,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(rate.Every(12*time.Second), 5),
		log:           log,
	}
}

// attemptLimiter keeps one token bucket per client key.
type attemptLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	entries map[string]*rate.Limiter
}

func newAttemptLimiter(every rate.Limit, burst int) *attemptLimiter {
	if burst < 1 {
		burst = 1
	}
	return &attemptLimiter{every: every, burst: burst, entries: make(map[string]*rate.Limiter)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.entries[key]
	if !ok {
		limiter = rate.NewLimiter(l.every, l.burst)
		l.entries[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	router := httprouter.New()
	router.HandleMethodNotAllowed = true
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		a.log.WithFields(logrus.Fields{"path": r.URL.Path, "panic": v}).Error("handler panicked")
		writeError(w, http.StatusInternalServerError, errors.New("panic"))
	}

	router.GET("/healthz", a.handleHealth)
	router.POST("/api/v1/auth/login", a.handleLogin)
	router.POST("/api/v1/auth/check-registration", a.handleCheckRegistration)
	if a.events != nil {
		router.POST("/api/v1/events/push", a.handleEventPush)
	}

	router.POST("/api/v1/bills", a.requireAuth(a.handleCreateBill))
	router.POST("/api/v1/cash-transactions", a.requireAuth(a.handleCreateCashTransaction))
	router.GET("/api/v1/reports/daily", a.requireAuth(a.handleDailyReport, domain.RoleOwner))

	return a.withMiddleware(router)
}

func (a *API) requireAuth(next httprouter.Handle, roles ...string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(r.Context(), token)
		if err != nil {
			writeAppError(w, a.log, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)), ps)
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeAppError(w, a.log, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCheckRegistration(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many attempts"))
		return
	}

	var req domain.RegistrationCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.CheckRegistration(r.Context(), req); err != nil {
		writeAppError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": true})
}

func (a *API) handleCreateBill(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var bill domain.Bill
	if err := decodeJSON(r, &bill); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := a.service.CreateBill(r.Context(), bill)
	if err != nil {
		writeAppError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleCreateCashTransaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var tx domain.CashTransaction
	if err := decodeJSON(r, &tx); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := a.service.CreateCashTransaction(r.Context(), tx)
	if err != nil {
		writeAppError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	storeID := r.URL.Query().Get("store_id")
	date := r.URL.Query().Get("date")
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	report, err := a.service.DailyReport(r.Context(), storeID, date)
	if err != nil {
		writeAppError(w, a.log, err)
		return
	}

	switch format {
	case "csv":
		body, err := dailyReportToCSV(report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"daily-report-%s.csv\"", report.ReportDateKey))
		_, _ = w.Write([]byte(body))
	case "xlsx":
		body, err := dailyReportToXLSX(report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"daily-report-%s.xlsx\"", report.ReportDateKey))
		_, _ = w.Write(body)
	case "", "json":
		writeJSON(w, http.StatusOK, report)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
	}
}

// pushRequest is the body Pub/Sub push subscriptions deliver.
type pushRequest struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// handleEventPush acknowledges every well-authenticated push, dispatch errors
// included, so that Pub/Sub does not redeliver messages no handler can use.
func (a *API) handleEventPush(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Push-Token")), []byte(a.pushToken)) != 1 {
		writeError(w, http.StatusUnauthorized, errors.New("invalid push token"))
		return
	}

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.log.WithError(err).Warn("malformed push request")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := a.events.DispatchPayload(r.Context(), req.Message.Data); err != nil {
		a.log.WithError(err).WithField("message_id", req.Message.MessageID).Error("drop change event")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         600,
	})

	return corsHandler.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"elapsed": time.Since(startedAt).String(),
		}).Debug("request")
	}))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeAppError maps an apperr code to its status. Uncoded errors are internal.
func writeAppError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= 500 {
		log.WithError(err).Error("internal error")
		writeJSON(w, status, map[string]any{"error": "internal server error", "code": code})
		return
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "code": code})
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
