package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
	"github.com/nixxel-company-limited/escpos-ticket-printer/printjob"
	"github.com/nixxel-company-limited/escpos-ticket-printer/transport"
)

// JobRunner executes print jobs
type JobRunner interface {
	Run(ctx context.Context, job printjob.Job) (*printjob.Result, error)
}

// Agent is the HTTP surface of the local print agent
type Agent struct {
	runner   JobRunner
	business model.BusinessConfig
	ticket   model.TicketConfig
	methods  func() []model.MethodInfo
	preview  http.Handler
	logger   zerolog.Logger
	mux      *http.ServeMux

	// held while a job runs; one job at a time
	slot chan struct{}
}

// AgentOption configures an Agent
type AgentOption func(*Agent)

// WithMethods sets the source of the method list served on /methods
func WithMethods(f func() []model.MethodInfo) AgentOption {
	return func(a *Agent) { a.methods = f }
}

// WithPreviewHub mounts h on /preview/ws
func WithPreviewHub(h http.Handler) AgentOption {
	return func(a *Agent) { a.preview = h }
}

// WithAgentLogger sets the logger
func WithAgentLogger(logger zerolog.Logger) AgentOption {
	return func(a *Agent) { a.logger = logger }
}

// NewAgent creates an agent printing with the given business and ticket configuration
func NewAgent(runner JobRunner, business model.BusinessConfig, ticket model.TicketConfig, opts ...AgentOption) *Agent {
	a := &Agent{
		runner:   runner,
		business: business,
		ticket:   ticket,
		methods: func() []model.MethodInfo {
			return printjob.AvailableMethods(printjob.CapabilityProbe{})
		},
		logger: zerolog.Nop(),
		slot:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux = http.NewServeMux()
	a.mux.HandleFunc("POST /print", a.handlePrint)
	a.mux.HandleFunc("GET /methods", a.handleMethods)
	a.mux.HandleFunc("GET /health", a.handleHealth)
	if a.preview != nil {
		a.mux.Handle("GET /preview/ws", a.preview)
	}
	return a
}

// ServeHTTP implements http.Handler
func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// PrintRequest is the body of POST /print
type PrintRequest struct {
	SaleID int64  `json:"saleId"`
	Copies *int   `json:"copies,omitempty"`
	Method string `json:"method,omitempty"`
}

type printResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message,omitempty"`
	Kind    string           `json:"kind,omitempty"`
	Result  *printjob.Result `json:"result,omitempty"`
}

func (a *Agent) handlePrint(w http.ResponseWriter, r *http.Request) {
	var req PrintRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, printResponse{Message: "invalid request body"})
		return
	}
	if req.SaleID <= 0 {
		writeJSON(w, http.StatusBadRequest, printResponse{Message: "saleId is required"})
		return
	}

	ticket := a.ticket
	if req.Method != "" {
		ticket.PrintMethod = string(model.ParsePrintMethod(req.Method))
	}
	if req.Copies != nil {
		ticket.CopiesCount = *req.Copies
	}
	job := printjob.NewJob(req.SaleID, a.business, ticket)

	logger := a.logger.With().Str("job_id", job.ID).Int64("sale_id", job.SaleID).Logger()
	logger.Info().Str("method", string(job.Method)).Int("copies", job.Copies).Msg("print requested")

	res, err := a.run(r.Context(), job)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		logger.Error().Err(err).Msg("print job failed")
		writeJSON(w, status, printResponse{Message: err.Error(), Kind: transport.KindOf(err).String()})
		return
	}

	writeJSON(w, http.StatusOK, printResponse{Success: true, Result: res})
}

// run waits for the printer to be free, then runs job
func (a *Agent) run(ctx context.Context, job printjob.Job) (*printjob.Result, error) {
	select {
	case a.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("print job cancelled while queued: %w", ctx.Err())
	}
	defer func() { <-a.slot }()
	return a.runner.Run(ctx, job)
}

func (a *Agent) handleMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.methods())
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
