// Package api exposes the local control surface the device UI shell drives:
// session navigation, coupon and payment actions, and sync controls.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opencohort/fieldlink/internal/middleware"
	"github.com/opencohort/fieldlink/internal/models"
	"github.com/opencohort/fieldlink/internal/services"
	"github.com/opencohort/fieldlink/internal/upload"
)

// StatusStore lists upload states for the sync status screen.
type StatusStore interface {
	ListUploadStates() ([]models.UploadState, error)
}

// Pinger probes the remote server for reachability and key validity.
type Pinger interface {
	Ping(ctx context.Context) (*upload.VersionInfo, error)
}

type Router struct {
	enroll   *services.EnrollmentService
	sessions *services.SessionService
	coupons  *services.CouponService
	payments *services.PaymentService
	staff    *services.StaffAuthService
	manager  *upload.Manager
	pinger   Pinger
	status   StatusStore
	auth     *middleware.Auth

	mu     sync.Mutex
	active map[string]*sessionEntry
}

// sessionEntry serializes all navigation for one survey behind its own
// mutex: one logical sequence per active survey.
type sessionEntry struct {
	mu   sync.Mutex
	sess *services.Session
}

func NewRouter(enroll *services.EnrollmentService, sessions *services.SessionService,
	coupons *services.CouponService, payments *services.PaymentService,
	staff *services.StaffAuthService, manager *upload.Manager, pinger Pinger,
	status StatusStore, auth *middleware.Auth) *Router {
	return &Router{
		enroll:   enroll,
		sessions: sessions,
		coupons:  coupons,
		payments: payments,
		staff:    staff,
		manager:  manager,
		pinger:   pinger,
		status:   status,
		auth:     auth,
		active:   map[string]*sessionEntry{},
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/staff/login", rt.handleStaffLogin) // POST
	mux.HandleFunc("/api/surveys", rt.handleStartSurvey)    // POST
	mux.HandleFunc("/api/surveys/", rt.handleSurveyScoped)  // GET/POST survey sub-resources
	mux.Handle("/api/payments", middleware.RequireAuth(http.HandlerFunc(rt.handleRecruitmentPayment)))
	mux.HandleFunc("/api/sync/retry", rt.handleSyncRetry)   // POST
	mux.HandleFunc("/api/sync/status", rt.handleSyncStatus) // GET
	mux.HandleFunc("/api/sync/ping", rt.handleSyncPing)     // GET
}

// Handler wraps the registered mux with the auth middleware.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)
	return rt.auth.WithAuth(mux)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		status := http.StatusInternalServerError
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden:
			status = http.StatusForbidden
		}
		http.Error(w, se.Message, status)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// POST /api/staff/login
func (rt *Router) handleStaffLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name string `json:"name"`
		PIN  string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.staff.Login(req.Name, req.PIN)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"token": res.Token, "staff_id": res.StaffID, "role": res.Role})
}

// POST /api/surveys
func (rt *Router) handleStartSurvey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		SubjectID           string `json:"subject_id"`
		Language            string `json:"language"`
		CouponCode          string `json:"coupon_code"`
		ConsentSignatureHex string `json:"consent_signature_hex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var signature []byte
	if req.ConsentSignatureHex != "" {
		var err error
		signature, err = hex.DecodeString(req.ConsentSignatureHex)
		if err != nil {
			http.Error(w, "consent_signature_hex must be hex encoded", http.StatusBadRequest)
			return
		}
	}
	res, err := rt.enroll.Start(services.StartRequest{
		SubjectID:        req.SubjectID,
		Language:         req.Language,
		CouponCode:       req.CouponCode,
		ConsentSignature: signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Duplicate {
		writeJSON(w, map[string]any{"duplicate": true, "prior_survey_id": res.PriorSurveyID})
		return
	}
	writeJSON(w, map[string]any{"survey_id": res.Survey.ID})
}

// entry returns the serialized session wrapper for a survey, resuming it
// from the store on first use.
func (rt *Router) entry(surveyID string) (*sessionEntry, error) {
	rt.mu.Lock()
	e, ok := rt.active[surveyID]
	if !ok {
		e = &sessionEntry{}
		rt.active[surveyID] = e
	}
	rt.mu.Unlock()

	e.mu.Lock()
	if e.sess == nil {
		sess, err := rt.sessions.Resume(surveyID)
		if err != nil {
			e.mu.Unlock()
			rt.mu.Lock()
			delete(rt.active, surveyID)
			rt.mu.Unlock()
			return nil, err
		}
		e.sess = sess
	}
	return e, nil
}

type questionView struct {
	ID        string   `json:"id"`
	ShortName string   `json:"short_name"`
	Text      string   `json:"text"`
	Options   []string `json:"options,omitempty"`
}

func viewQuestion(q *models.Question) *questionView {
	if q == nil {
		return nil
	}
	v := &questionView{ID: q.ID, ShortName: q.ShortName, Text: q.Text}
	for _, o := range q.Options {
		v.Options = append(v.Options, o.Text)
	}
	return v
}

func stepResponse(sess *services.Session, res services.StepResult) map[string]any {
	return map[string]any{
		"status":       string(res.Status),
		"question":     viewQuestion(res.Question),
		"branch":       res.Branch,
		"has_previous": sess.HasPrevious(),
		"completed":    sess.Completed(),
	}
}

// GET/POST /api/surveys/{id}/{question|answer|next|previous|coupons|payment}
func (rt *Router) handleSurveyScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/surveys/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	surveyID, action := parts[0], parts[1]
	switch action {
	case "question":
		rt.handleCurrentQuestion(w, r, surveyID)
	case "answer":
		rt.handleAnswer(w, r, surveyID)
	case "next":
		rt.handleStep(w, r, surveyID, true)
	case "previous":
		rt.handleStep(w, r, surveyID, false)
	case "coupons":
		rt.handleCoupons(w, r, surveyID)
	case "payment":
		middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rt.handleParticipantPayment(w, r, surveyID)
		})).ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleCurrentQuestion(w http.ResponseWriter, r *http.Request, surveyID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	e, err := rt.entry(surveyID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer e.mu.Unlock()
	writeJSON(w, map[string]any{
		"question":     viewQuestion(e.sess.Current()),
		"has_previous": e.sess.HasPrevious(),
		"completed":    e.sess.Completed(),
	})
}

func (rt *Router) handleAnswer(w http.ResponseWriter, r *http.Request, surveyID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		NumericValue *float64 `json:"numeric_value"`
		TextValue    *string  `json:"text_value"`
		OptionIndex  *int64   `json:"option_index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, err := rt.entry(surveyID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer e.mu.Unlock()
	if err := e.sess.RecordAnswer(req.NumericValue, req.TextValue, req.OptionIndex); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (rt *Router) handleStep(w http.ResponseWriter, r *http.Request, surveyID string, forward bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	e, err := rt.entry(surveyID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer e.mu.Unlock()
	var res services.StepResult
	if forward {
		res, err = e.sess.Next()
	} else {
		res, err = e.sess.Previous()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stepResponse(e.sess, res))
}

func (rt *Router) handleCoupons(w http.ResponseWriter, r *http.Request, surveyID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	views, err := rt.coupons.ListForPayment(surveyID)
	if err != nil {
		writeError(w, err)
		return
	}
	type couponOut struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	out := make([]couponOut, 0, len(views))
	for _, v := range views {
		out = append(out, couponOut{Code: v.Coupon.Code, State: string(v.State)})
	}
	writeJSON(w, map[string]any{"survey_id": surveyID, "coupons": out})
}

// POST /api/surveys/{id}/payment: participant payment confirmation.
func (rt *Router) handleParticipantPayment(w http.ResponseWriter, r *http.Request, surveyID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Method       string `json:"method"`
		SignatureHex string `json:"signature_hex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sv, err := rt.payments.ConfirmParticipantPayment(surveyID, req.Method, req.SignatureHex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"survey_id": sv.ID, "payment_confirmed": sv.PaymentConfirmed})
}

// POST /api/payments: recruitment payment over one or more coupons.
func (rt *Router) handleRecruitmentPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		SurveyID     string   `json:"survey_id"`
		CouponCodes  []string `json:"coupon_codes"`
		Method       string   `json:"method"`
		SignatureHex string   `json:"signature_hex"`
		AuditPhone   string   `json:"audit_phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	staffID := ""
	if c, ok := middleware.StaffFromContext(r.Context()); ok {
		staffID = c.StaffID
	}
	rec, err := rt.payments.RecordRecruitmentPayment(services.RecruitmentPaymentRequest{
		SurveyID:     req.SurveyID,
		CouponCodes:  req.CouponCodes,
		Method:       req.Method,
		SignatureHex: req.SignatureHex,
		AuditPhone:   req.AuditPhone,
		StaffID:      staffID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"payment_id": rec.ID, "coupon_codes": rec.CouponCodes})
}

// POST /api/sync/retry
func (rt *Router) handleSyncRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rt.manager == nil {
		http.Error(w, "sync is not configured", http.StatusServiceUnavailable)
		return
	}
	results, err := rt.manager.RetryPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ok := 0
	type retryOut struct {
		StateID string `json:"state_id"`
		Kind    string `json:"kind"`
		Error   string `json:"error,omitempty"`
	}
	out := make([]retryOut, 0, len(results))
	for _, res := range results {
		ro := retryOut{StateID: res.StateID, Kind: res.Kind}
		if res.Err != nil {
			ro.Error = res.Err.Error()
		} else {
			ok++
		}
		out = append(out, ro)
	}
	writeJSON(w, map[string]any{"attempted": len(results), "succeeded": ok, "results": out})
}

// GET /api/sync/status
func (rt *Router) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	states, err := rt.status.ListUploadStates()
	if err != nil {
		writeError(w, err)
		return
	}
	type stateOut struct {
		ID            string `json:"id"`
		EntityID      string `json:"entity_id"`
		Kind          string `json:"kind"`
		Status        string `json:"status"`
		Attempts      int    `json:"attempts"`
		LastAttemptAt string `json:"last_attempt_at,omitempty"`
		LastError     string `json:"last_error,omitempty"`
	}
	out := make([]stateOut, 0, len(states))
	for _, st := range states {
		so := stateOut{ID: st.ID, EntityID: st.EntityID, Kind: st.Kind, Status: st.Status, Attempts: st.Attempts, LastError: st.LastError}
		if st.LastAttemptAt != nil {
			so.LastAttemptAt = st.LastAttemptAt.UTC().Format(time.RFC3339)
		}
		out = append(out, so)
	}
	writeJSON(w, map[string]any{"uploads": out})
}

// GET /api/sync/ping
func (rt *Router) handleSyncPing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rt.pinger == nil {
		http.Error(w, "sync is not configured", http.StatusServiceUnavailable)
		return
	}
	info, err := rt.pinger.Ping(r.Context())
	if err != nil {
		if ue, ok := upload.AsUploadError(err); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "category": string(ue.Category), "message": ue.Message})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "server_version": info.Version})
}
