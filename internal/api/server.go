package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ZKCipherAI/internal/auth"
	xerrors "ZKCipherAI/internal/errors"
	"ZKCipherAI/internal/observability/metrics"
	"ZKCipherAI/internal/pipeline"
	"ZKCipherAI/internal/proof"
	"ZKCipherAI/internal/proofjob"
)

// Server exposes the proof pipeline over REST.
type Server struct {
	addr     string
	pipeline *pipeline.Pipeline
	jobs     *proofjob.Service
	auth     *auth.Service
}

// ServerOption configures optional server behaviour.
type ServerOption func(*Server)

// WithAuthService guards the API routes with the given authentication
// service. Health and metrics stay open.
func WithAuthService(svc *auth.Service) ServerOption {
	return func(s *Server) { s.auth = svc }
}

// NewServer builds the API server. The jobs service may be nil, in which
// case the asynchronous endpoints answer 503.
func NewServer(addr string, p *pipeline.Pipeline, jobs *proofjob.Service, opts ...ServerOption) *Server {
	s := &Server{addr: addr, pipeline: p, jobs: jobs}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed handler. Exposed so tests can drive the API
// without a listener.
func (s *Server) Handler() http.Handler {
	proofMux := http.NewServeMux()
	proofMux.HandleFunc("POST /api/v1/proofs", s.handleGenerate)
	proofMux.HandleFunc("POST /api/v1/proofs/batch", s.handleGenerateBatch)
	proofMux.HandleFunc("POST /api/v1/proofs/compose", s.handleCompose)
	proofMux.HandleFunc("POST /api/v1/proofs/anchor", s.handleAnchor)
	proofMux.HandleFunc("GET /api/v1/proofs/history", s.handleHistory)
	proofMux.HandleFunc("GET /api/v1/proofs/{hash}/verifications", s.handleVerifications)
	proofMux.HandleFunc("POST /api/v1/verify", s.handleVerify)
	proofMux.HandleFunc("POST /api/v1/verify/consensus", s.handleVerifyConsensus)
	proofMux.HandleFunc("POST /api/v1/verify/chain", s.handleVerifyChain)

	jobsMux := http.NewServeMux()
	jobsMux.HandleFunc("POST /api/v1/jobs", s.handleSubmitJob)
	jobsMux.HandleFunc("GET /api/v1/jobs", s.handleListJobs)
	jobsMux.HandleFunc("GET /api/v1/jobs/stats", s.handleJobStats)
	jobsMux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)

	var proofHandler http.Handler = proofMux
	var jobsHandler http.Handler = jobsMux
	if s.auth != nil {
		proofHandler = s.auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				http.MethodGet: {auth.PermProofsRead},
				"*":            {auth.PermProofsWrite},
			},
			AuditEvent: "proof_api",
		})(proofHandler)
		jobsHandler = s.auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				http.MethodGet: {auth.PermJobsRead},
				"*":            {auth.PermJobsWrite},
			},
			AuditEvent: "job_api",
		})(jobsHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/jobs", jobsHandler)
	mux.Handle("/api/v1/jobs/", jobsHandler)
	mux.Handle("/api/v1/", proofHandler)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start serves HTTP until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// generatePayload mirrors proof.GenerateOptions for the wire.
type generatePayload struct {
	DisableCompression bool   `json:"disable_compression"`
	Optimization       string `json:"optimization,omitempty"`
	Batched            bool   `json:"batched"`
}

func (p generatePayload) options() proof.GenerateOptions {
	return proof.GenerateOptions{
		DisableCompression: p.DisableCompression,
		Optimization:       p.Optimization,
		Batched:            p.Batched,
	}
}

// verifyPayload mirrors proof.VerifyOptions for the wire. The timeout is
// expressed in milliseconds.
type verifyPayload struct {
	Strict         bool    `json:"strict"`
	TrustThreshold float64 `json:"trust_threshold,omitempty"`
	TimeoutMs      int64   `json:"timeout_ms,omitempty"`
	CheckOnChain   bool    `json:"check_on_chain"`
}

func (p verifyPayload) options() proof.VerifyOptions {
	return proof.VerifyOptions{
		Strict:         p.Strict,
		TrustThreshold: p.TrustThreshold,
		Timeout:        time.Duration(p.TimeoutMs) * time.Millisecond,
		CheckOnChain:   p.CheckOnChain,
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline not initialised", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		CircuitID string          `json:"circuit_id"`
		Subject   proof.Subject   `json:"subject"`
		Options   generatePayload `json:"options"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	handle, err := s.pipeline.Generate(r.Context(), req.Subject, req.CircuitID, req.Options.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (s *Server) handleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline not initialised", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		CircuitID string          `json:"circuit_id"`
		Subjects  []proof.Subject `json:"subjects"`
		Options   generatePayload `json:"options"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.pipeline.GenerateBatch(r.Context(), req.Subjects, req.CircuitID, req.Options.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline not initialised", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		SourceCircuitID string          `json:"source_circuit_id"`
		Proofs          []*proof.Handle `json:"proofs"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	composite, err := s.pipeline.Compose(r.Context(), req.Proofs, req.SourceCircuitID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, composite)
}

func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline not initialised", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Proof *proof.Handle `json:"proof"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Proof == nil {
		http.Error(w, "proof is required", http.StatusBadRequest)
		return
	}

	receipt, err := s.pipeline.Anchor(r.Context(), req.Proof)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline not initialised", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Proof   *proof.Handle `json:"proof"`
		Options verifyPayload `json:"options"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := s.pipeline.Verify(r.Context(), req.Proof, req.Options.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleVerifyConsensus(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline not initialised", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Proof        *proof.Handle `json:"proof"`
		ValidatorIDs []string      `json:"validator_ids"`
		Options      verifyPayload `json:"options"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.pipeline.VerifyWithConsensus(r.Context(), req.Proof, req.ValidatorIDs, req.Options.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline not initialised", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Links   []proof.ChainLink `json:"links"`
		Options verifyPayload     `json:"options"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	report, err := s.pipeline.VerifyChain(r.Context(), req.Links, req.Options.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline not initialised", http.StatusServiceUnavailable)
		return
	}

	records, err := s.pipeline.History(r.Context(), queryLimit(r, 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleVerifications(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline not initialised", http.StatusServiceUnavailable)
		return
	}

	hash := r.PathValue("hash")
	records, err := s.pipeline.Verifications(r.Context(), hash, queryLimit(r, 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "job service not initialised", http.StatusServiceUnavailable)
		return
	}

	var req proofjob.SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	job, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "job service not initialised", http.StatusServiceUnavailable)
		return
	}

	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "job service not initialised", http.StatusServiceUnavailable)
		return
	}

	jobs, err := s.jobs.List(r.Context(), jobListOptions(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "job service not initialised", http.StatusServiceUnavailable)
		return
	}

	stats, err := s.jobs.Stats(r.Context(), jobListOptions(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jobListOptions translates query parameters into store filter options.
func jobListOptions(r *http.Request) []proofjob.ListOption {
	query := r.URL.Query()
	var opts []proofjob.ListOption
	if limit := queryLimit(r, 0); limit > 0 {
		opts = append(opts, proofjob.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset > 0 {
			opts = append(opts, proofjob.WithOffset(offset))
		}
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []proofjob.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, proofjob.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, proofjob.WithStatuses(statuses...))
	}
	if circuit := query.Get("circuit"); circuit != "" {
		opts = append(opts, proofjob.WithCircuit(circuit))
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, proofjob.WithQuery(q))
	}
	return opts
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an application error code to an HTTP status and emits a
// JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := xerrors.CodeOf(err)
	switch code {
	case proof.CodeValidation, proof.CodeUnknownCircuit, proof.CodeBatchTooLarge,
		proof.CodeInsufficientInputs, proof.CodeChainTooShort,
		proofjob.CodeJobValidation, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case proofjob.CodeJobNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case proofjob.CodeJobConflict, proofjob.CodeJobCompleted:
		status = http.StatusConflict
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}

	writeJSON(w, status, map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}

// withContext rejects new requests once the root context is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
