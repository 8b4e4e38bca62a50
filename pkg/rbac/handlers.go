package rbac

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/clinicauth/pkg/audit"
	"github.com/platinummonkey/clinicauth/pkg/contextkeys"
	"github.com/platinummonkey/clinicauth/pkg/observability"
)

// Request headers
const (
	SessionHeader   = "X-Session-ID"
	RequestIDHeader = "X-Request-ID"
)

// Handlers serves the authorization API
type Handlers struct {
	sessions     *Sessions
	store        *Store
	evaluator    *Evaluator
	admin        *Admin
	activity     audit.Reader
	logger       *observability.Logger
	sessionToken string

	rolesGuard    *Guard
	activityGuard *Guard
}

// HandlersOption configures Handlers
type HandlersOption func(*Handlers)

// WithSessionToken sets the bearer token the authentication gateway presents
// on the session endpoints. Without it those endpoints refuse every request.
func WithSessionToken(token string) HandlersOption {
	return func(h *Handlers) { h.sessionToken = token }
}

// WithHandlersLogger sets the request logger
func WithHandlersLogger(l *observability.Logger) HandlersOption {
	return func(h *Handlers) { h.logger = l }
}

// NewHandlers creates the API handlers
func NewHandlers(sessions *Sessions, store *Store, evaluator *Evaluator, admin *Admin, activity audit.Reader, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		sessions:  sessions,
		store:     store,
		evaluator: evaluator,
		admin:     admin,
		activity:  activity,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.rolesGuard = NewGuard(evaluator, MustPermission(ResourceRoles, ActionRead))
	h.activityGuard = NewGuard(evaluator, MustPermission(ResourceActivityLogs, ActionRead), Explain(""))
	return h
}

// RegisterRoutes registers all routes on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Session lifecycle, called by the authentication gateway
	router.Handle("/rbac/sessions", h.wrap(h.requireToken(http.HandlerFunc(h.OpenSession)))).Methods("POST")
	router.Handle("/rbac/sessions/{id}", h.wrap(h.requireToken(http.HandlerFunc(h.CloseSession)))).Methods("DELETE")
	router.Handle("/rbac/sessions/{id}/refresh", h.wrap(h.requireToken(http.HandlerFunc(h.RefreshSession)))).Methods("POST")

	// Caller's own context
	router.Handle("/rbac/me", h.wrap(http.HandlerFunc(h.Me))).Methods("GET")
	router.Handle("/rbac/check", h.wrap(http.HandlerFunc(h.Check))).Methods("GET")

	// Administration
	router.Handle("/rbac/roles", h.wrap(h.rolesGuard.Middleware(http.HandlerFunc(h.ListRoles)))).Methods("GET")
	router.Handle("/rbac/users/{id}", h.wrap(http.HandlerFunc(h.UpdateUser))).Methods("PATCH")
	router.Handle("/rbac/users/{id}/role", h.wrap(http.HandlerFunc(h.AssignRole))).Methods("PUT")

	// Activity trail
	router.Handle("/activity", h.wrap(h.activityGuard.Middleware(http.HandlerFunc(h.ListActivity)))).Methods("GET")
}

// wrap resolves the request id and the caller's session onto the context
func (h *Handlers) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx = contextkeys.WithRequestID(ctx, requestID)

		if sid := strings.TrimSpace(r.Header.Get(SessionHeader)); sid != "" {
			ctx = contextkeys.WithSessionID(ctx, sid)
			if p, ok := h.sessions.Get(sid); ok {
				ac := p.Context()
				ctx = contextkeys.WithPrincipalID(ctx, ac.PrincipalID())
				ctx = WithContext(ctx, ac)
			}
		}

		ctx = observability.WithLogger(ctx, h.logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireToken admits only the gateway. Without a configured token the
// session endpoints are closed, since any caller could otherwise bind a
// session to any principal.
func (h *Handlers) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.sessionToken == "" {
			writeJSONError(w, http.StatusServiceUnavailable, "session endpoints disabled: no session token configured")
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.sessionToken)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// session returns the caller's provider, or nil
func (h *Handlers) session(r *http.Request) *Provider {
	sid := contextkeys.GetSessionID(r.Context())
	if sid == "" {
		return nil
	}
	p, ok := h.sessions.Get(sid)
	if !ok {
		return nil
	}
	return p
}

type contextResponse struct {
	State       string       `json:"state"`
	Principal   *Principal   `json:"principal,omitempty"`
	Profile     *UserProfile `json:"profile,omitempty"`
	Role        *Role        `json:"role,omitempty"`
	RoleKind    string       `json:"role_kind"`
	Permissions []string     `json:"permissions"`
	LoadedAt    time.Time    `json:"loaded_at"`
	Error       string       `json:"error,omitempty"`
}

func newContextResponse(ac *AuthorizationContext) contextResponse {
	resp := contextResponse{
		State:       ac.State.String(),
		Principal:   ac.Principal,
		Profile:     ac.Profile,
		Role:        ac.Role,
		RoleKind:    ac.RoleKind().String(),
		Permissions: ac.Permissions.Strings(),
		LoadedAt:    ac.LoadedAt,
	}
	if ac.Err != nil {
		resp.Error = ac.Err.Error()
	}
	return resp
}

// OpenSession binds an authenticated principal to a session id
func (h *Handlers) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID   string `json:"session_id"`
		PrincipalID string `json:"principal_id"`
		Email       string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	p, err := h.sessions.Open(r.Context(), req.SessionID, Principal{ID: req.PrincipalID, Email: req.Email})
	if p == nil {
		writeError(w, err)
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("session opened in error state")
	}

	w.Header().Set(SessionHeader, req.SessionID)
	writeJSON(w, http.StatusCreated, newContextResponse(p.Context()))
}

// CloseSession logs a session out
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Close(mux.Vars(r)["id"]) {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshSession reloads a session's context, picking up role edits
func (h *Handlers) RefreshSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.sessions.Get(mux.Vars(r)["id"])
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	ac, err := p.Refresh(r.Context())
	if ac == nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newContextResponse(ac))
}

// Me returns the caller's authorization context
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	ac := ContextFromRequest(r.Context())
	if ac == nil {
		writeJSONError(w, http.StatusUnauthorized, "no session")
		return
	}
	writeJSON(w, http.StatusOK, newContextResponse(ac))
}

// Check evaluates one permission for the caller without notifying
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perm, err := NewPermission(Resource(q.Get("resource")), Action(q.Get("action")))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := h.evaluator.Evaluate(ContextFromRequest(r.Context()), perm)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"permission": perm.String(),
		"allowed":    d.Allowed,
		"reason":     d.Reason,
	})
}

// ListRoles lists active roles for assignment pickers
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListActiveRoles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	writeJSON(w, http.StatusOK, roles)
}

// UpdateUser applies a partial profile update
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch ProfilePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.admin.UpdateUserProfile(r.Context(), h.sessionOrNil(r), mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// AssignRole binds a user to a role; an empty role_id clears the binding
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoleID string `json:"role_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.admin.AssignRole(r.Context(), h.sessionOrNil(r), mux.Vars(r)["id"], strings.TrimSpace(req.RoleID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// sessionOrNil keeps a missing session a nil interface, which Admin denies
func (h *Handlers) sessionOrNil(r *http.Request) Session {
	if p := h.session(r); p != nil {
		return p
	}
	return nil
}

// ListActivity searches the activity trail. format=ndjson or csv exports.
func (h *Handlers) ListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		UserID:       q.Get("user_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = n
		}
	}
	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = &t
		}
	}

	format := audit.ExportFormatJSON
	if v := q.Get("format"); v != "" {
		f, err := audit.ParseExportFormat(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}

	entries, err := h.activity.Search(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := audit.Export(entries, format)
	if err != nil {
		writeError(w, err)
		return
	}

	switch format {
	case audit.ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	case audit.ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors to status codes
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		writeJSONError(w, http.StatusForbidden, DefaultDeniedMessage)
	case errors.Is(err, ErrContextPending):
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusServiceUnavailable, ErrContextPending.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownPermission):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoSession):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
