// Package printjob runs print jobs: it fetches the command buffer for every
// copy, dispatches it to the configured transport and falls back to the
// preview when a physical transport fails.
package printjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-ticket-printer/clock"
	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
	"github.com/nixxel-company-limited/escpos-ticket-printer/transport"
)

// DefaultCopyDelay paces consecutive copies
const DefaultCopyDelay = 500 * time.Millisecond

// ErrInvalidCopies is returned for copy counts outside [model.MinCopies, model.MaxCopies]
var ErrInvalidCopies = fmt.Errorf("copies must be between %d and %d", model.MinCopies, model.MaxCopies)

// CommandSource produces the base64 ESC/POS buffer for a sale
type CommandSource interface {
	FetchCommands(ctx context.Context, saleID int64, business model.BusinessConfig, ticket model.TicketConfig) (string, error)
}

// Job is one print request
type Job struct {
	ID       string
	SaleID   int64
	Copies   int
	Method   model.PrintMethod
	Business model.BusinessConfig
	Ticket   model.TicketConfig
}

// NewJob builds a job from the ticket configuration. Copies are clamped.
func NewJob(saleID int64, business model.BusinessConfig, ticket model.TicketConfig) Job {
	return Job{
		ID:       uuid.NewString(),
		SaleID:   saleID,
		Copies:   model.ClampCopies(ticket.CopiesCount),
		Method:   ticket.Method(),
		Business: business,
		Ticket:   ticket,
	}
}

// CopyResult reports how one copy was delivered
type CopyResult struct {
	Index     int    `json:"index"`
	Transport string `json:"transport"`
	Fallback  bool   `json:"fallback"`
	Message   string `json:"message"`
	Cause     string `json:"cause,omitempty"`
}

// Result summarizes a completed job
type Result struct {
	JobID     string       `json:"jobId"`
	Copies    int          `json:"copies"`
	Fallbacks int          `json:"fallbacks"`
	Outcomes  []CopyResult `json:"outcomes"`
}

// Orchestrator executes jobs against a fixed set of drivers
type Orchestrator struct {
	source    CommandSource
	preview   transport.Driver
	drivers   map[model.PrintMethod]transport.Driver
	clock     clock.Clock
	copyDelay time.Duration
	logger    zerolog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithDriver registers d for method. Registering MethodPreview is ignored;
// the preview driver is fixed at construction.
func WithDriver(method model.PrintMethod, d transport.Driver) Option {
	return func(o *Orchestrator) {
		if method != model.MethodPreview && d != nil {
			o.drivers[method] = d
		}
	}
}

// WithClock sets the clock used for copy pacing
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithCopyDelay overrides DefaultCopyDelay
func WithCopyDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.copyDelay = d }
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator. preview is the driver used for the preview
// method, for unregistered methods and as the fallback of every other driver.
func New(source CommandSource, preview transport.Driver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:    source,
		preview:   preview,
		drivers:   make(map[model.PrintMethod]transport.Driver),
		clock:     clock.Real{},
		copyDelay: DefaultCopyDelay,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Driver returns the driver a method dispatches to
func (o *Orchestrator) Driver(method model.PrintMethod) transport.Driver {
	if d, ok := o.drivers[method]; ok {
		return d
	}
	return o.preview
}

// Run prints job.Copies copies in order. A failed physical transport falls
// back to the preview for that copy. A fetch failure, a preview failure or
// cancellation ends the job.
func (o *Orchestrator) Run(ctx context.Context, job Job) (*Result, error) {
	if job.Copies < model.MinCopies || job.Copies > model.MaxCopies {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCopies, job.Copies)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	logger := o.logger.With().Str("job", job.ID).Int64("sale", job.SaleID).Logger()
	driver := o.Driver(job.Method)
	res := &Result{JobID: job.ID, Copies: job.Copies}

	logger.Info().Str("method", string(job.Method)).Str("transport", driver.Name()).
		Int("copies", job.Copies).Msg("print job started")

	for i := 0; i < job.Copies; i++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("print job cancelled before copy %d: %w", i+1, err)
		}

		payload, err := o.source.FetchCommands(ctx, job.SaleID, job.Business, job.Ticket)
		if err != nil {
			logger.Error().Err(err).Int("copy", i+1).Msg("failed to fetch ticket commands")
			return res, &transport.Error{Kind: transport.KindFetch, Err: err}
		}

		cr, err := o.dispatch(ctx, logger, driver, payload)
		if err != nil {
			return res, err
		}
		cr.Index = i
		if cr.Fallback {
			res.Fallbacks++
		}
		res.Outcomes = append(res.Outcomes, cr)

		if i < job.Copies-1 {
			if err := o.clock.Sleep(ctx, o.copyDelay); err != nil {
				return res, fmt.Errorf("print job cancelled after copy %d: %w", i+1, err)
			}
		}
	}

	logger.Info().Int("copies", job.Copies).Int("fallbacks", res.Fallbacks).Msg("print job finished")
	return res, nil
}

// dispatch is attempt(primary), then attempt(preview) on failure
func (o *Orchestrator) dispatch(ctx context.Context, logger zerolog.Logger, primary transport.Driver, payload string) (CopyResult, error) {
	out, err := attempt(ctx, primary, payload)
	if err == nil {
		return CopyResult{Transport: primary.Name(), Message: out.Message}, nil
	}
	if primary == o.preview {
		return CopyResult{}, err
	}
	if ctx.Err() != nil {
		return CopyResult{}, fmt.Errorf("print job cancelled: %w", errors.Join(ctx.Err(), err))
	}

	logger.Warn().Err(err).Str("transport", primary.Name()).
		Str("kind", transport.KindOf(err).String()).Msg("printing failed, falling back to preview")

	out, perr := attempt(ctx, o.preview, payload)
	if perr != nil {
		return CopyResult{}, perr
	}
	return CopyResult{Transport: o.preview.Name(), Fallback: true, Message: out.Message, Cause: err.Error()}, nil
}

func attempt(ctx context.Context, d transport.Driver, payload string) (transport.Outcome, error) {
	out, err := d.Send(ctx, payload)
	if err != nil {
		return transport.Outcome{}, err
	}
	if !out.Success {
		return transport.Outcome{}, transport.Errorf(transport.KindTransfer, d.Name(), "driver reported failure: %s", out.Message)
	}
	return out, nil
}
