package unifiedauth

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/httputil"
	"github.com/agrinova/authd/pkg/middleware"
	"github.com/agrinova/authd/pkg/session"
)

// SessionCookie is set for clients on the cookie strategy
const SessionCookie = middleware.SessionCookie

// Handlers exposes the login flow over HTTP
type Handlers struct {
	service *Service
}

// NewHandlers creates new auth flow handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers the auth flow routes. Only login is open; the
// other routes require the current session's token.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.Login).Methods("POST")

	authn := middleware.NewAuthMiddleware(h.service, false, h.service.logger).Handler
	router.Handle("/auth/logout", authn(http.HandlerFunc(h.Logout))).Methods("POST")
	router.Handle("/auth/refresh", authn(http.HandlerFunc(h.Refresh))).Methods("POST")
	router.Handle("/auth/session", authn(http.HandlerFunc(h.GetSession))).Methods("GET")
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id,omitempty"`
}

type sessionResponse struct {
	Principal       *auth.Principal `json:"principal"`
	AccessToken     string          `json:"access_token"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Strategy        auth.Strategy   `json:"strategy"`
	CrossTabCapable bool            `json:"cross_tab_capable"`
}

// Login handles POST /auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	client := auth.ClientContextFromRequest(r)
	if client.DeviceID == "" {
		client.DeviceID = req.DeviceID
	}
	creds := auth.Credentials{
		Identifier: req.Identifier,
		Password:   req.Password,
		DeviceID:   req.DeviceID,
	}

	sess, err := h.service.Login(r.Context(), creds, client)
	if err != nil {
		writeError(w, err)
		return
	}

	if sess.Strategy.Method == auth.MethodCookie {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sess.AccessToken,
			Path:     "/",
			Expires:  sess.ExpiresAt,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, h.toResponse(sess))
}

// Logout handles POST /auth/logout. It always succeeds.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context())
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /auth/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toResponse(sess))
}

// GetSession handles GET /auth/session
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.CurrentSession(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toResponse(sess))
}

func (h *Handlers) toResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		Principal:       sess.Principal,
		AccessToken:     sess.AccessToken,
		ExpiresAt:       sess.ExpiresAt,
		Strategy:        sess.Strategy,
		CrossTabCapable: h.service.Store().CrossTabCapable(),
	}
}

// StatusFor maps a service error to an HTTP status
func StatusFor(err error) int {
	var locked *auth.LockedOutError
	switch {
	case errors.As(err, &locked):
		return http.StatusLocked
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrSessionExpired),
		errors.Is(err, auth.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrLoginSuperseded):
		return http.StatusConflict
	case errors.Is(err, auth.ErrRefreshNotAllowed), errors.Is(err, ErrStaleRefresh):
		return http.StatusConflict
	case errors.Is(err, auth.ErrLockoutUnavailable):
		return http.StatusServiceUnavailable
	case auth.IsTransportError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)

	var locked *auth.LockedOutError
	if errors.As(err, &locked) {
		seconds := int(math.Ceil(locked.Remaining.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
	}
	httputil.WriteError(w, status, err)
}
