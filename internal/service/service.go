// Package service is the entry point for executing planned batches. It ties
// ingestion, classification, execution, formatting and recording together
// and tracks asynchronous executions.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/classifier"
	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
	"github.com/ZanzyTHEbar/actionflow/internal/executor"
	"github.com/ZanzyTHEbar/actionflow/internal/placeholder"
	"github.com/ZanzyTHEbar/actionflow/internal/report"
	"github.com/ZanzyTHEbar/actionflow/internal/rules"
)

// Service executes batches against a ToolInvoker.
type Service struct {
	invoker    actionflow.ToolInvoker
	extractor  actionflow.ValueExtractor
	recorder   actionflow.Recorder
	rules      *rules.Set
	eventBus   eventbus.EventBus
	kinds      report.KindLookup
	maxWorkers int
	logger     *slog.Logger

	classifier *classifier.Classifier
	executor   *executor.Executor

	asyncExecutions      map[string]*BatchContext
	asyncExecutionsMutex sync.RWMutex
}

// Option configures the Service.
type Option func(*Service)

// WithExtractor sets the placeholder value extractor.
func WithExtractor(x actionflow.ValueExtractor) Option {
	return func(s *Service) {
		s.extractor = x
	}
}

// WithRecorder sets the flow-step recorder.
func WithRecorder(r actionflow.Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithRules sets the implicit dependency table. Defaults to rules.Default().
func WithRules(r *rules.Set) Option {
	return func(s *Service) {
		s.rules = r
	}
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *Service) {
		s.eventBus = bus
	}
}

// WithKinds sets the catalog used to filter retrieval tools from responses.
// Defaults to the invoker when it implements report.KindLookup.
func WithKinds(k report.KindLookup) Option {
	return func(s *Service) {
		s.kinds = k
	}
}

// WithMaxWorkers bounds concurrent tool invocations per batch.
func WithMaxWorkers(n int) Option {
	return func(s *Service) {
		s.maxWorkers = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Service.
func New(invoker actionflow.ToolInvoker, options ...Option) (*Service, error) {
	if invoker == nil {
		return nil, actionflow.NewConfigurationError("tool invoker is required", nil)
	}

	s := &Service{
		invoker:         invoker,
		rules:           rules.Default(),
		maxWorkers:      5,
		logger:          slog.Default(),
		asyncExecutions: make(map[string]*BatchContext),
	}
	for _, option := range options {
		option(s)
	}
	if s.kinds == nil {
		if k, ok := invoker.(report.KindLookup); ok {
			s.kinds = k
		}
	}

	s.classifier = classifier.New(s.rules, s.logger)
	execOpts := []executor.ExecutorOption{
		executor.WithMaxWorkers(s.maxWorkers),
		executor.WithRules(s.rules),
		executor.WithLogger(s.logger),
	}
	if s.extractor != nil {
		execOpts = append(execOpts, executor.WithExtractor(s.extractor))
	}
	if s.eventBus != nil {
		execOpts = append(execOpts, executor.WithEventBus(s.eventBus))
	}
	s.executor = executor.New(invoker, execOpts...)

	return s, nil
}

// Execute runs one batch request to completion. Structural failures
// (planning, unknown tool, deadlock) are returned as errors; per-action
// failures are reported in the response. A cancelled request returns the
// partial response together with the cancellation error.
func (s *Service) Execute(ctx context.Context, req actionflow.ExecuteRequest) (*actionflow.Response, error) {
	bc := NewBatchContext(req)
	err := s.createStateMachine().Execute(ctx, bc)
	return bc.Response(), err
}

// Classify ingests the planned actions and returns the strategy they would run with.
func (s *Service) Classify(actions []actionflow.PlannedAction) (classifier.Mode, error) {
	batch, err := placeholder.Ingest(actions)
	if err != nil {
		return "", err
	}
	return s.classifier.Classify(batch.Planned()), nil
}

// Metrics returns the executor's counters.
func (s *Service) Metrics() executor.ExecutorMetrics {
	return s.executor.Metrics()
}

func (s *Service) publish(ctx context.Context, evt eventbus.Event) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, evt); err != nil {
		s.logger.Debug("Event not published", "type", evt.Type(), "error", err)
	}
}
