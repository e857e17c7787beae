package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tunivo/studio/internal/settings"
	"github.com/tunivo/studio/pkg/logger"
	"github.com/tunivo/studio/pkg/models"
	"github.com/tunivo/studio/pkg/studio"
	"github.com/tunivo/studio/pkg/studio/ledger"
	"github.com/tunivo/studio/pkg/studio/provider"
	"github.com/tunivo/studio/pkg/studio/storage"
	"github.com/tunivo/studio/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	db       *storage.DBClient
	store    ledger.Store
	config   *ServerConfig
	log      studio.Logger
	metrics  *Metrics
	registry *prometheus.Registry
	limiter  *rateLimiter

	mu      sync.Mutex
	studios map[string]*studio.Studio

	// Jobs outlive their request; they stop when the server closes.
	jobCtx    context.Context
	cancelJob context.CancelFunc
	jobs      sync.WaitGroup
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int
	AllowedOrigins  []string
	HMACSecret      string // Empty disables signature checks
	RateLimit       int
	Retention       time.Duration
	JanitorInterval time.Duration
	TempDir         string
	OutputDir       string
	AudioDir        string
	CreditsPerClip  int64
	Plans           settings.Catalog

	// StudioOptions are appended to every per-user Studio, after the
	// server's own. Tests use them to swap the provider and exporter.
	StudioOptions []studio.Option
}

// NewServer creates a server over an open database. The server owns db and
// closes it in Close.
func NewServer(db *storage.DBClient, config *ServerConfig) *Server {
	if config.CreditsPerClip <= 0 {
		config.CreditsPerClip = 1
	}
	if config.RateLimit <= 0 {
		config.RateLimit = settings.DefaultRateLimit
	}
	if config.Plans == nil {
		config.Plans = settings.DefaultCatalog()
	}
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = 5 * time.Minute
	}

	registry := prometheus.NewRegistry()
	jobCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		db:        db,
		store:     studio.LedgerStoreFromClient(db),
		config:    config,
		log:       logger.GetLogger().Named("server"),
		metrics:   NewMetrics(registry),
		registry:  registry,
		limiter:   newRateLimiter(config.RateLimit, time.Minute, config.Retention),
		studios:   make(map[string]*studio.Studio),
		jobCtx:    jobCtx,
		cancelJob: cancel,
	}
}

// studioFor returns the caller's Studio, opening the ledger account on first
// use. plan only matters for accounts that do not exist yet.
func (s *Server) studioFor(email, plan string) (*studio.Studio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.studios[email]; ok {
		return st, nil
	}

	if plan == "" {
		plan = settings.DefaultPlan
	}
	allowance, err := s.config.Plans.Allowance(plan)
	if err != nil {
		return nil, err
	}

	opts := []studio.Option{
		studio.WithLedgerStore(s.store),
		studio.WithAccount(email),
		studio.WithPlanTier(strings.ToLower(plan)),
		studio.WithAllowance(allowance),
		studio.WithCreditsPerClip(s.config.CreditsPerClip),
		studio.WithTempDir(s.config.TempDir),
		studio.WithLogger(logger.GetLogger().Named("studio." + email)),
	}
	st, err := studio.New(append(opts, s.config.StudioOptions...)...)
	if err != nil {
		return nil, err
	}
	s.studios[email] = st
	return st, nil
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// errorStatus maps pipeline errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInsufficientAllowance):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrReservationReleased), errors.Is(err, models.ErrAlreadyCommitted):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidAnalysis):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrClipMismatch):
		return http.StatusBadGateway
	case errors.Is(err, provider.ErrInvalidAspect), errors.Is(err, models.ErrInvalidJobID):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(r.Header.Get(UserHeader)))
	if email == "" || !strings.Contains(email, "@") {
		s.respondError(w, http.StatusUnauthorized, UserHeader+" header with an email is required")
		return "", false
	}
	return email, true
}

// verifySignature checks a hex HMAC-SHA256 of body against the shared secret.
func verifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "Tunivo Studio API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":   "GET /health",
			"metrics":  "GET /metrics",
			"login":    "POST /api/auth/login",
			"credits":  "GET /api/credits",
			"submit":   "POST /api/jobs",
			"job":      "GET /api/jobs/{id}",
			"download": "GET /api/jobs/{id}/download",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleLogin handles POST /api/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(email, "@") {
		s.respondError(w, http.StatusBadRequest, "A valid email is required")
		return
	}

	st, err := s.studioFor(email, req.Plan)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := st.Ledger().Balance(r.Context())
	if err != nil {
		s.log.Errorf("Failed to read balance for %s: %v", email, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to read account")
		return
	}

	s.log.Infof("Login: %s on plan %s", email, bal.Plan)
	s.respondJSON(w, http.StatusOK, LoginResponse{Email: email, Plan: bal.Plan, Allowance: bal.Allowance})
}

// handleCredits handles GET /api/credits
func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	email, ok := s.user(w, r)
	if !ok {
		return
	}

	st, err := s.studioFor(email, "")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	bal, err := st.Ledger().Balance(r.Context())
	if err != nil {
		s.log.Errorf("Failed to read balance for %s: %v", email, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to read credits")
		return
	}
	s.respondJSON(w, http.StatusOK, CreditsResponse{
		Plan:      bal.Plan,
		Allowance: bal.Allowance,
		Held:      bal.Held,
		Available: bal.Available(),
	})
}

// handleJobs handles POST /api/jobs. With ?wait=true the job runs inside the
// request and its outcome sets the status code.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	email, ok := s.user(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		s.respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	if !verifySignature(s.config.HMACSecret, body, r.Header.Get(SignatureHeader)) {
		s.respondError(w, http.StatusUnauthorized, "Invalid or missing "+SignatureHeader)
		return
	}
	if !s.limiter.Allow(email) {
		s.metrics.rateLimited.Inc()
		w.Header().Set("Retry-After", "60")
		s.respondError(w, http.StatusTooManyRequests, fmt.Sprintf("At most %d jobs per minute", s.config.RateLimit))
		return
	}

	var req CreateJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	audioPath, err := s.resolveAudio(req.AudioPath)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.studioFor(email, "")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = utils.NewJobID()
	}

	if existing, err := s.db.GetJob(r.Context(), jobID); err == nil {
		if existing.AccountID != email {
			s.respondError(w, http.StatusConflict, "Job id already in use")
			return
		}
		if existing.Status != StatusFailed {
			s.respondJSON(w, http.StatusAccepted, CreateJobResponse{ID: existing.ID, Status: existing.Status})
			return
		}
		// A failed job whose credits were released can never run again
		// under the same id.
		res, err := st.Ledger().Reservation(r.Context(), jobID)
		if err == nil && res.Released {
			s.respondError(w, http.StatusConflict, "Job id already used; submit a new id")
			return
		}
		if err != nil && !errors.Is(err, models.ErrUnknownReservation) {
			s.log.Errorf("Failed to look up reservation for job %s: %v", jobID, err)
			s.respondError(w, http.StatusInternalServerError, "Failed to look up job")
			return
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.log.Errorf("Failed to look up job %s: %v", jobID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to look up job")
		return
	}

	mode, _ := models.ParseMode(req.Mode)
	jobReq := studio.JobRequest{
		JobID:     jobID,
		Analysis:  req.Analysis,
		Lyrics:    req.Lyrics,
		Prompt:    req.Prompt,
		Mode:      mode,
		Aspect:    req.AspectRatio,
		AudioPath: audioPath,
	}
	if audioPath != "" {
		jobReq.OutputPath = filepath.Join(s.config.OutputDir, jobID+".mp4")
	}

	// Reject what would fail before any credits move: bad analyses and jobs
	// the account cannot afford.
	plan, err := st.Plan(jobReq.Analysis, jobReq.Lyrics, jobReq.Prompt)
	if err != nil {
		s.respondError(w, errorStatus(err), err.Error())
		return
	}
	if status, err := s.checkAffordable(r.Context(), st, jobID, plan); err != nil {
		s.respondError(w, status, err.Error())
		return
	}

	planJSON, err := s.encodeRecord("plan", jobID, plan)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "Failed to queue job")
		return
	}
	job := &storage.Job{
		ID:        jobID,
		AccountID: email,
		Status:    StatusQueued,
		Plan:      planJSON,
	}
	if err := s.db.SaveJob(r.Context(), job); err != nil {
		s.log.Errorf("Failed to save job %s: %v", jobID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to queue job")
		return
	}
	s.log.Infof("Queued job %s for %s (%d segments)", jobID, email, len(plan.Segments))

	if r.URL.Query().Get("wait") == "true" {
		if _, err := s.runJob(r.Context(), st, job, jobReq); err != nil {
			s.respondError(w, errorStatus(err), err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, s.jobResponse(job))
		return
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		s.runJob(s.jobCtx, st, job, jobReq)
	}()
	s.respondJSON(w, http.StatusAccepted, CreateJobResponse{ID: jobID, Status: StatusQueued})
}

func (s *Server) checkAffordable(ctx context.Context, st *studio.Studio, jobID string, plan models.Plan) (int, error) {
	if _, err := st.Ledger().Reservation(ctx, jobID); err == nil {
		// A retry of a reserved job is not charged again.
		return 0, nil
	} else if !errors.Is(err, models.ErrUnknownReservation) {
		return http.StatusInternalServerError, err
	}

	bal, err := st.Ledger().Balance(ctx)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	cost := s.config.CreditsPerClip * int64(len(plan.Segments))
	if cost > bal.Available() {
		return http.StatusPaymentRequired, fmt.Errorf("%w: job needs %d credits, %d available",
			models.ErrInsufficientAllowance, cost, bal.Available())
	}
	return 0, nil
}

// resolveAudio maps a request audio path into the audio directory and
// rejects anything that escapes it.
func (s *Server) resolveAudio(rel string) (string, error) {
	if rel == "" {
		return "", nil
	}
	root, err := filepath.Abs(s.config.AudioDir)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.Clean("/"+rel))
	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("audio_path %q is outside the audio directory", rel)
	}
	if !utils.FileExists(full) {
		return "", fmt.Errorf("audio_path %q does not exist", rel)
	}
	return full, nil
}

// runJob produces the job and records every state change in the database.
func (s *Server) runJob(ctx context.Context, st *studio.Studio, job *storage.Job, req studio.JobRequest) (*studio.JobResult, error) {
	started := time.Now()
	s.metrics.jobStarted()

	// Status writes must land even after ctx is cancelled.
	saveCtx := context.WithoutCancel(ctx)
	save := func() {
		if err := s.db.SaveJob(saveCtx, job); err != nil {
			s.log.Errorf("Failed to save job %s: %v", job.ID, err)
		}
	}

	job.Status = StatusRunning
	save()
	req.OnProgress = func(stage studio.Stage, fraction float64) {
		job.Progress = fraction
		job.Message = string(stage)
		save()
	}

	res, err := st.Produce(ctx, req)
	if err != nil {
		job.Status = StatusFailed
		job.Message = err.Error()
		save()
		s.metrics.jobFinished(StatusFailed, started)
		s.log.Warnf("Job %s failed: %v", job.ID, err)
		return nil, err
	}

	job.Status = StatusDone
	job.Progress = 1
	job.Message = ""
	// A score that cannot be encoded leaves the job done without a report.
	job.Report, _ = s.encodeRecord("report", job.ID, res.Score)
	if res.OutputPath != "" {
		job.OutputPath = res.OutputPath
		job.DownloadURL = "/api/jobs/" + job.ID + "/download"
	}
	save()

	if !res.Reused {
		s.metrics.creditsSpent.Add(float64(res.Reservation.Amount))
	}
	s.metrics.jobFinished(StatusDone, started)
	return res, nil
}

// encodeRecord marshals v for a job column and logs encode failures.
func (s *Server) encodeRecord(kind, jobID string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Errorf("Failed to encode %s for job %s: %v", kind, jobID, err)
		return "", err
	}
	return string(data), nil
}

func (s *Server) jobResponse(job *storage.Job) JobResponse {
	resp := JobResponse{
		ID:          job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		Message:     job.Message,
		DownloadURL: job.DownloadURL,
	}
	if job.Report != "" {
		resp.Report = json.RawMessage(job.Report)
	}
	if job.Plan != "" {
		resp.Plan = json.RawMessage(job.Plan)
	}
	return resp
}

// handleJob handles GET /api/jobs/{id} and GET /api/jobs/{id}/download
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	email, ok := s.user(w, r)
	if !ok {
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || (action != "" && action != "download") {
		http.NotFound(w, r)
		return
	}

	job, err := s.db.GetJob(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && job.AccountID != email) {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", id))
		return
	}
	if err != nil {
		s.log.Errorf("Failed to load job %s: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	if action == "" {
		s.respondJSON(w, http.StatusOK, s.jobResponse(&job))
		return
	}

	if job.Status != StatusDone || job.OutputPath == "" {
		s.respondError(w, http.StatusConflict, "Job has no export to download")
		return
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		s.respondError(w, http.StatusGone, "Export has expired")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.ID+".mp4"))
	http.ServeFile(w, r, job.OutputPath)
}

// Close stops running jobs, waits for them to record their outcome and
// closes the database.
func (s *Server) Close() error {
	s.cancelJob()
	s.jobs.Wait()

	s.mu.Lock()
	for email, st := range s.studios {
		st.Close()
		delete(s.studios, email)
	}
	s.mu.Unlock()

	return s.db.Close()
}
