package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"expensifyos/internal/domain"
	"expensifyos/internal/plugins"
)

// PluginFactory builds plugins by source name. *plugins.Registry satisfies it.
type PluginFactory interface {
	Has(name domain.Source) bool
	New(name domain.Source, cfg domain.PluginConfig, deps plugins.Deps) (domain.Plugin, error)
}

var _ PluginFactory = (*plugins.Registry)(nil)

// Request describes one run.
type Request struct {
	Period domain.Period
	// Sources restricts the run; empty means every enabled source.
	Sources []domain.Source
	DryRun  bool
}

// Service coordinates plugins, submission and reporting.
type Service struct {
	factory   PluginFactory
	configs   map[domain.Source]domain.PluginConfig
	submitter domain.ExpenseSubmitter

	deps          plugins.Deps
	notifier      domain.Notifier
	concurrency   int
	pluginTimeout time.Duration
	log           *slog.Logger
	now           func() time.Time
	newRunID      func() string
	metrics       *metrics
}

type Option func(*Service)

// WithDeps sets the services handed to plugin constructors.
func WithDeps(d plugins.Deps) Option { return func(s *Service) { s.deps = d } }

// WithConcurrency sets the worker count; values below one mean one.
func WithConcurrency(n int) Option { return func(s *Service) { s.concurrency = max(n, 1) } }

// WithPluginTimeout bounds each plugin's fetch. Zero disables the bound.
func WithPluginTimeout(d time.Duration) Option { return func(s *Service) { s.pluginTimeout = d } }

// WithNotifier sends every finished report to n.
func WithNotifier(n domain.Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithMeter(m metric.Meter) Option { return func(s *Service) { s.metrics = newMetrics(m) } }

// WithClock replaces the time source for report timestamps and durations.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns a Service. configs is copied; later changes by the caller are
// not seen.
func New(factory PluginFactory, configs map[domain.Source]domain.PluginConfig, submitter domain.ExpenseSubmitter, opts ...Option) *Service {
	cp := make(map[domain.Source]domain.PluginConfig, len(configs))
	for k, v := range configs {
		cp[k] = v.Clone()
	}
	s := &Service{
		factory:     factory,
		configs:     cp,
		submitter:   submitter,
		concurrency: 1,
		log:         slog.Default(),
		now:         time.Now,
		newRunID:    func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = newMetrics(otel.Meter("expensifyos/internal/services/orchestrator"))
	}
	return s
}

// task is one selected source. A preset result marks a source that was
// rejected during selection and never runs.
type task struct {
	index  int
	source domain.Source
	cfg    domain.PluginConfig
	preset *domain.RunResult
}

// Run executes req and returns the report. Per-source problems are reported
// in the results; the error is reserved for an unusable request.
//
// Steps:
//  1. Select sources: the filter (or every enabled source) intersected with
//     the enabled configuration. Rejected filter entries get failed results.
//  2. Run each selected source on the worker pool: construct, fetch under
//     the plugin timeout, validate, then submit unless dry-running.
//  3. Assemble results in selection order and notify.
func (s *Service) Run(ctx context.Context, req Request) (*domain.Report, error) {
	if req.Period.Month < time.January || req.Period.Month > time.December || req.Period.Year <= 0 {
		return nil, fmt.Errorf("invalid period %s", req.Period)
	}
	report := &domain.Report{
		RunID:     s.newRunID(),
		Period:    req.Period,
		DryRun:    req.DryRun,
		StartedAt: s.now(),
	}
	log := s.log.With("run_id", report.RunID, "period", req.Period.String())
	if req.DryRun {
		log.Info("dry run: nothing will be submitted")
	}

	tasks := s.selectSources(req.Sources)
	if len(tasks) == 0 {
		log.Warn("no enabled sources to run")
	}
	states := newTracker()
	for _, t := range tasks {
		states.add(t.source)
	}

	results := make([]domain.RunResult, len(tasks))
	workCh := make(chan task)
	var wg sync.WaitGroup
	for range min(s.concurrency, max(len(tasks), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range workCh {
				results[t.index] = s.runTask(ctx, log, states, req, t)
			}
		}()
	}
	for _, t := range tasks {
		workCh <- t
	}
	close(workCh)
	wg.Wait()

	report.Results = results
	report.FinishedAt = s.now()
	log.Info("run finished",
		"submitted", report.Count(domain.StatusSubmitted),
		"no_charge", report.Count(domain.StatusNoCharge),
		"dry_run", report.Count(domain.StatusDryRun),
		"partial", report.Count(domain.StatusPartial),
		"failed", report.Count(domain.StatusFailed),
		"success", report.Success())

	if s.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := s.notifier.Notify(nctx, report); err != nil {
			log.Warn("sending run summary failed", "err", err)
		}
	}
	return report, nil
}

// selectSources resolves the run's sources in a stable order: the filter's
// order when given, otherwise sorted by name.
func (s *Service) selectSources(filter []domain.Source) []task {
	var names []domain.Source
	if len(filter) == 0 {
		for _, name := range slices.Sorted(maps.Keys(s.configs)) {
			if s.configs[name].Enabled {
				names = append(names, name)
			}
		}
	} else {
		seen := make(map[domain.Source]bool, len(filter))
		for _, name := range filter {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	tasks := make([]task, 0, len(names))
	for i, name := range names {
		t := task{index: i, source: name}
		cfg, configured := s.configs[name]
		switch {
		case !s.factory.Has(name):
			t.preset = &domain.RunResult{Source: name, Status: domain.StatusFailed,
				Err: fmt.Errorf("%w: %s", domain.ErrUnknownSource, name)}
		case !configured || !cfg.Enabled:
			t.preset = &domain.RunResult{Source: name, Status: domain.StatusFailed,
				Err: fmt.Errorf("%w: %s", domain.ErrSourceDisabled, name)}
		default:
			t.cfg = cfg
		}
		if t.preset != nil {
			t.preset.Detail = t.preset.Err.Error()
		}
		tasks = append(tasks, t)
	}
	return tasks
}

func (s *Service) runTask(ctx context.Context, runLog *slog.Logger, states *tracker, req Request, t task) domain.RunResult {
	log := runLog.With("source", t.source.String())
	start := s.now()

	res := s.process(ctx, log, states, req, t)
	res.Source = t.source
	res.Duration = s.now().Sub(start)
	if res.Err != nil {
		if res.Detail == "" {
			res.Detail = res.Err.Error()
		}
		res.Err = &domain.SourceError{Source: t.source, Kind: domain.KindOf(res.Err), Err: res.Err}
	}
	if cur := states.state(t.source); cur != StateDone {
		if err := states.transition(t.source, cur, StateDone); err != nil {
			log.Error("state machine", "err", err)
		}
	}
	s.metrics.record(ctx, t.source, res.Status, res.Duration)

	switch res.Status {
	case domain.StatusFailed:
		log.Error("source failed", "detail", res.Detail, "duration", res.Duration)
	case domain.StatusPartial:
		log.Warn("expense created without receipt", "expense_id", res.ExpenseID.String(), "detail", res.Detail)
	default:
		log.Info("source finished", "status", string(res.Status), "expense_id", res.ExpenseID.String(), "duration", res.Duration)
	}
	return res
}

func failed(err error) domain.RunResult {
	return domain.RunResult{Status: domain.StatusFailed, Err: err}
}

// process runs one source end to end. A panic anywhere in plugin code,
// constructor included, becomes a failed result.
func (s *Service) process(ctx context.Context, log *slog.Logger, states *tracker, req Request, t task) (res domain.RunResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug("plugin panic", "stack", string(debug.Stack()))
			res = failed(fmt.Errorf("plugin panicked: %v", r))
		}
	}()
	if t.preset != nil {
		return *t.preset
	}
	if err := ctx.Err(); err != nil {
		return failed(fmt.Errorf("not started: %w", err))
	}
	if err := states.transition(t.source, StatePending, StateFetching); err != nil {
		return failed(err)
	}

	plugin, err := s.factory.New(t.source, t.cfg, s.deps)
	if err != nil {
		return failed(err)
	}
	defer closePlugin(log, plugin)

	log.Info("fetching expense")
	expense, err := s.fetch(ctx, plugin, req)
	if err != nil {
		return failed(err)
	}
	if expense == nil {
		return domain.RunResult{Status: domain.StatusNoCharge, Detail: "no charges for " + req.Period.String()}
	}

	e := *expense
	if e.Source == "" {
		e.Source = t.source
	}
	if e.Source != t.source {
		return failed(fmt.Errorf("%w: plugin %s returned an expense for %s", domain.ErrMalformedExpense, t.source, e.Source))
	}
	if err := e.Validate(req.DryRun); err != nil {
		return failed(err)
	}

	if req.DryRun {
		return domain.RunResult{Status: domain.StatusDryRun, Expense: &e,
			Detail: fmt.Sprintf("%s %s %s", e.Merchant, e.Decimal(), e.Currency)}
	}

	if err := states.transition(t.source, StateFetching, StateSubmitting); err != nil {
		return failed(err)
	}
	log.Info("submitting expense", "amount", e.Decimal(), "currency", e.Currency)
	id, err := s.submitter.Submit(ctx, e)
	var partial *domain.PartialSubmitError
	switch {
	case errors.As(err, &partial):
		return domain.RunResult{Status: domain.StatusPartial, ExpenseID: partial.ID, Expense: &e, Err: err}
	case err != nil:
		return domain.RunResult{Status: domain.StatusFailed, ExpenseID: id, Expense: &e, Err: err}
	}
	return domain.RunResult{Status: domain.StatusSubmitted, ExpenseID: id, Expense: &e,
		Detail: fmt.Sprintf("%s %s %s", e.Merchant, e.Decimal(), e.Currency)}
}

// fetch runs FetchExpense under the plugin timeout, turning a panic into an
// error.
func (s *Service) fetch(ctx context.Context, p domain.Plugin, req Request) (e *domain.Expense, err error) {
	fctx := ctx
	if s.pluginTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, s.pluginTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Debug("plugin panic", "source", p.Name().String(), "stack", string(debug.Stack()))
			e, err = nil, fmt.Errorf("plugin panicked: %v", r)
		}
	}()

	e, err = p.FetchExpense(fctx, req.Period, req.DryRun)
	if err != nil && fctx != ctx && errors.Is(fctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("timeout after %s: %w", s.pluginTimeout, err)
	}
	return e, err
}

// closePlugin releases p. A failing or panicking Close is logged and leaves the
// result alone: by then the expense may already be filed.
func closePlugin(log *slog.Logger, p domain.Plugin) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("closing plugin panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := p.Close(); err != nil {
		log.Warn("closing plugin failed", "err", err)
	}
}

// CredentialCheck is the outcome of probing one source.
type CredentialCheck struct {
	Source domain.Source
	Kind   domain.PluginKind
	OK     bool
	Err    error
}

// Validate probes the credentials of every enabled source, sorted by name.
func (s *Service) Validate(ctx context.Context) []CredentialCheck {
	var out []CredentialCheck
	for _, t := range s.selectSources(nil) {
		out = append(out, s.check(ctx, t))
	}
	return out
}

func (s *Service) check(ctx context.Context, t task) (c CredentialCheck) {
	c.Source = t.source
	if t.preset != nil {
		c.Err = t.preset.Err
		return c
	}
	defer func() {
		if r := recover(); r != nil {
			c.OK, c.Err = false, fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	p, err := s.factory.New(t.source, t.cfg, s.deps)
	if err != nil {
		c.Err = err
		return c
	}
	defer closePlugin(s.log.With("source", t.source.String()), p)
	c.Kind = p.Kind()
	c.OK = s.probe(ctx, p)
	if !c.OK {
		c.Err = domain.ErrCredentialInvalid
	}
	return c
}

func (s *Service) probe(ctx context.Context, p domain.Plugin) (ok bool) {
	if s.pluginTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pluginTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return p.ValidateCredentials(ctx)
}
