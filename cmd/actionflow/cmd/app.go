package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/cache"
	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
	"github.com/ZanzyTHEbar/actionflow/internal/extractor"
	"github.com/ZanzyTHEbar/actionflow/internal/notify"
	"github.com/ZanzyTHEbar/actionflow/internal/planeapi"
	"github.com/ZanzyTHEbar/actionflow/internal/prompt"
	"github.com/ZanzyTHEbar/actionflow/internal/recorder"
	"github.com/ZanzyTHEbar/actionflow/internal/registry"
	"github.com/ZanzyTHEbar/actionflow/internal/rules"
	"github.com/ZanzyTHEbar/actionflow/internal/service"
	"github.com/ZanzyTHEbar/actionflow/internal/telemetry"
)

// app holds the wired runtime shared by every command.
type app struct {
	cfg      actionflow.Config
	logger   *slog.Logger
	registry *registry.Registry
	rules    *rules.Set
	recorder actionflow.Recorder
	bus      *eventbus.ChannelEventBus
	conn     *notify.Connection
	memCache *cache.InMemoryCache
	genkit   *genkit.Genkit
	service  *service.Service
}

func loadConfig() (actionflow.Config, error) {
	return actionflow.LoadConfig(cfgFile)
}

// newApp wires the registry, extractor, recorder and event bus from cfg.
// With fake set, tools run against an in-memory API.
func newApp(ctx context.Context, cfg actionflow.Config, fake bool) (*app, error) {
	logger := telemetry.SetupLogger()
	a := &app{cfg: cfg, logger: logger}

	var exec registry.MethodExecutor
	if fake {
		exec = planeapi.NewMemoryAPI()
	} else {
		exec = planeapi.NewClient(cfg.API.BaseURL,
			planeapi.WithToken(cfg.API.Token),
			planeapi.WithTimeout(cfg.API.Timeout.Duration),
			planeapi.WithLogger(logger),
		)
	}

	reg, err := registry.NewDefault(exec,
		registry.WithLogger(logger),
		registry.WithToolOptions(
			registry.WithTimeout(cfg.Executor.ToolTimeout.Duration),
			registry.WithRetries(cfg.Executor.MaxRetries, cfg.Executor.RetryDelay.Duration),
			registry.WithAppURL(cfg.API.AppURL),
			registry.WithToolLogger(logger),
		),
	)
	if err != nil {
		return nil, err
	}
	a.registry = reg

	a.rules = rules.Default()
	if cfg.Rules.File != "" {
		if a.rules, err = rules.Load(cfg.Rules.File); err != nil {
			return nil, err
		}
	}

	opts := []service.Option{
		service.WithRules(a.rules),
		service.WithMaxWorkers(cfg.Executor.MaxWorkers),
		service.WithLogger(logger),
	}

	if cfg.Extractor.Mode == "llm" {
		x, err := a.llmExtractor(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, service.WithExtractor(x))
	}

	if a.recorder, err = recorder.Open(ctx, cfg.Recorder, logger); err != nil {
		a.Close()
		return nil, err
	}
	opts = append(opts, service.WithRecorder(a.recorder))

	if cfg.Events.Enabled {
		a.bus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(cfg.Events.BufferSize),
			eventbus.WithWorkerCount(cfg.Events.WorkerCount),
			eventbus.WithLogger(logger),
		)
		opts = append(opts, service.WithEventBus(a.bus))

		if cfg.Events.AMQPURL != "" {
			if err := a.attachNotifier(); err != nil {
				a.Close()
				return nil, err
			}
		}
	}

	if a.service, err = service.New(reg, opts...); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) llmExtractor(ctx context.Context) (actionflow.ValueExtractor, error) {
	g, err := prompt.Init(ctx, a.cfg.Extractor.Model)
	if err != nil {
		return nil, actionflow.NewConfigurationError("failed to start the model runtime", err)
	}
	a.genkit = g

	prompts, err := prompt.NewRegistry(g)
	if err != nil {
		return nil, actionflow.NewConfigurationError("failed to define extraction prompts", err)
	}

	var c actionflow.Cache
	if a.cfg.Extractor.CacheFile != "" {
		fc, err := cache.NewFilePersistentCache(a.cfg.Extractor.CacheTTL.Duration, a.cfg.Extractor.CacheFile, a.logger)
		if err != nil {
			return nil, err
		}
		c = fc
	} else {
		a.memCache = cache.NewInMemoryCache(a.cfg.Extractor.CacheTTL.Duration, a.logger)
		c = a.memCache
	}

	llm := extractor.NewLLMExtractor(prompt.NewCompleter(prompts, prompt.ExtractEntity),
		extractor.WithCache(c),
		extractor.WithLogger(a.logger),
	)
	return extractor.Chain{extractor.NewRuleExtractor(a.logger), llm}, nil
}

func (a *app) attachNotifier() error {
	conn, err := notify.Dial(a.cfg.Events.AMQPURL, a.logger)
	if err != nil {
		return err
	}
	a.conn = conn
	if err := conn.DeclareExchange(a.cfg.Events.Exchange); err != nil {
		return err
	}
	if _, err := notify.NewNotifier(conn, a.cfg.Events.Exchange, a.logger).Attach(a.bus); err != nil {
		return fmt.Errorf("failed to subscribe notifier: %w", err)
	}
	return nil
}

// defineFlows exposes batch execution as a genkit flow when a model runtime is active.
func (a *app) defineFlows() {
	if a.genkit == nil {
		return
	}
	genkit.DefineFlow(a.genkit, "executeBatch",
		func(ctx context.Context, req actionflow.ExecuteRequest) (*actionflow.Response, error) {
			return a.service.Execute(ctx, req)
		},
	)
}

// Close releases everything newApp opened, draining the event bus first.
func (a *app) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.bus != nil {
		keep(a.bus.Close())
	}
	if a.conn != nil {
		keep(a.conn.Close())
	}
	if a.recorder != nil {
		keep(a.recorder.Close())
	}
	if a.memCache != nil {
		keep(a.memCache.Close())
	}
	return firstErr
}
