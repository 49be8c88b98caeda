package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/soaringjerry/Gatepass/internal/middleware"
	"github.com/soaringjerry/Gatepass/internal/models"
	"github.com/soaringjerry/Gatepass/internal/services"
)

const (
	maxJSONBody   = 1 << 20
	maxImportBody = 8 << 20
)

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Participants *services.ParticipantService
	Ingest       *services.IngestService
	Checkpoints  *services.CheckpointService
	Auth         *services.AuthService
	Analytics    *services.AnalyticsService
	Export       *services.ExportService
	// DevRoutes exposes unauthenticated facilitator provisioning.
	DevRoutes bool
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	return &Router{deps: deps}
}

// Register mounts the API on mux. Authentication claims must already be
// attached by middleware.Gate.WithAuth.
func (rt *Router) Register(mux *http.ServeMux) {
	facilitator := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireRole(models.RoleFacilitator, h)
	}
	mux.HandleFunc("/api/facilitators/signup", rt.handleSignup)
	mux.HandleFunc("/api/facilitators/login", rt.handleLogin)
	mux.Handle("/api/facilitators/me", facilitator(rt.handleMe))
	mux.Handle("/api/participants", facilitator(rt.handleParticipants))
	mux.Handle("/api/participants/import", facilitator(rt.handleImport))
	mux.Handle("/api/participants/lookup", facilitator(rt.handleLookup))
	mux.Handle("/api/participants/", facilitator(rt.handleParticipantScoped))
	mux.Handle("/api/tickets/resend", facilitator(rt.handleResend))
	mux.Handle("/api/checkpoints/", facilitator(rt.handleCheckpoint))
	mux.Handle("/api/analytics/summary", facilitator(rt.handleAnalytics))
	mux.Handle("/api/export/attendance", facilitator(rt.handleExport))
	if rt.deps.DevRoutes {
		mux.HandleFunc("/api/dev/facilitators", rt.handleProvision)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorStatus(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorForbidden:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorBadGateway:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if se, ok := services.AsServiceError(err); ok {
		status := errorStatus(se.Code)
		if status >= 500 {
			log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		}
		writeJSON(w, status, map[string]string{"error": se.Message, "code": string(se.Code)})
		return
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "code": "internal"})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed", "code": "method_not_allowed"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return services.NewInvalidError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// POST /api/facilitators/signup
func (rt *Router) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.deps.Auth.Signup(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Facilitator account ready."})
}

// POST /api/facilitators/login accepts JSON or an OAuth2 password form
// (username/password).
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := r.ParseForm(); err != nil {
			writeError(w, r, services.NewInvalidError("invalid form body"))
			return
		}
		req.Email = r.PostForm.Get("username")
		if req.Email == "" {
			req.Email = r.PostForm.Get("email")
		}
		req.Password = r.PostForm.Get("password")
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := rt.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/facilitators/me
func (rt *Router) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	c, _ := middleware.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"email": c.Email(), "role": c.Role})
}

// POST /api/dev/facilitators
func (rt *Router) handleProvision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.deps.Auth.Provision(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Facilitator created.", "email": services.NormalizeEmail(req.Email)})
}

// queryBool reads an optional boolean parameter. Anything strconv.ParseBool
// rejects is an invalid request rather than the default.
func queryBool(q url.Values, name string, def bool) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, services.NewInvalidError(fmt.Sprintf("%s must be true or false", name))
	}
	return b, nil
}

func parseFilter(r *http.Request) (models.ParticipantFilter, error) {
	q := r.URL.Query()
	var f models.ParticipantFilter
	if v := q.Get("role"); v != "" {
		role, ok := models.ParseRole(v)
		if !ok {
			return f, services.NewInvalidError(fmt.Sprintf("unknown role %q", v))
		}
		f.Role = role
	}
	if v := q.Get("checkpoint"); v != "" {
		cp, ok := models.ParseCheckpoint(v)
		if !ok {
			return f, services.NewInvalidError(fmt.Sprintf("unknown checkpoint %q", v))
		}
		f.Checkpoint = cp
		done, err := queryBool(q, "done", true)
		if err != nil {
			return f, err
		}
		f.Done = &done
	}
	return f, nil
}

// GET|POST /api/participants
func (rt *Router) handleParticipants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := parseFilter(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ps, err := rt.deps.Participants.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"participants": ps, "count": len(ps)})
	case http.MethodPost:
		var in services.RegisterInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := rt.deps.Participants.Register(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"message":        res.Message,
			"participant_id": res.Participant.ID,
			"emailed":        res.Emailed,
			"participant":    res.Participant,
		})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// POST /api/participants/import?dry_run=true&notify=false
func (rt *Router) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	q := r.URL.Query()
	dryRun, err := queryBool(q, "dry_run", false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	notify, err := queryBool(q, "notify", true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	opts := services.IngestOptions{DryRun: dryRun, SkipNotify: !notify}
	body := http.MaxBytesReader(w, r.Body, maxImportBody)
	report, err := rt.deps.Ingest.IngestReader(r.Context(), body, opts)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "import too large", "code": "too_large"})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /api/participants/lookup?email=
func (rt *Router) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	p, err := rt.deps.Participants.GetByEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"participant_id": p.ID})
}

// GET /api/participants/{id}
// GET|POST /api/participants/{id}/ticket
func (rt *Router) handleParticipantScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/participants/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		p, err := rt.deps.Participants.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}
	if parts[1] != "ticket" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		t, err := rt.deps.Participants.Ticket(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", t.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+t.Ticket.Format))
		w.Header().Set("Content-Length", strconv.Itoa(len(t.Document)))
		_, _ = w.Write(t.Document)
	case http.MethodPost:
		t, err := rt.deps.Participants.ReissueTicket(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":        "Ticket reissued.",
			"participant_id": id,
			"ticket":         t.Ticket,
			"ticket_url":     t.DocumentURL,
			"qr_code_url":    t.QRCodeURL,
		})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// POST /api/tickets/resend {"email": "..."}
func (rt *Router) handleResend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.deps.Participants.ResendTicket(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Ticket resent."})
}

// POST /api/checkpoints/{type}
// {"participant_id": "..."} or {"qr_code": "..."}; "task_type" for task.
func (rt *Router) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	event := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/checkpoints/"), "/")
	if event == "" || strings.Contains(event, "/") {
		http.NotFound(w, r)
		return
	}
	var req struct {
		ParticipantID string `json:"participant_id"`
		QRCode        string `json:"qr_code"`
		TaskType      string `json:"task_type"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in := services.RecordInput{
		ParticipantID: req.ParticipantID,
		Event:         event,
		TaskType:      req.TaskType,
		Actor:         middleware.ActorFromContext(r.Context()),
	}
	var (
		res *services.CheckpointResult
		err error
	)
	if req.QRCode != "" {
		res, err = rt.deps.Checkpoints.RecordScan(r.Context(), req.QRCode, in)
	} else {
		res, err = rt.deps.Checkpoints.Record(r.Context(), in)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/analytics/summary
func (rt *Router) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	sum, err := rt.deps.Analytics.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GET /api/export/attendance?role=&checkpoint=&done=
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := rt.deps.Export.Attendance(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+res.Filename)
	_, _ = w.Write(res.Data)
}
