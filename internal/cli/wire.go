// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/aicli/internal/agent"
	"github.com/jeranaias/aicli/internal/config"
	"github.com/jeranaias/aicli/internal/editor"
	"github.com/jeranaias/aicli/internal/logging"
	"github.com/jeranaias/aicli/internal/model"
	"github.com/jeranaias/aicli/internal/sandbox"
	"github.com/jeranaias/aicli/internal/services"
	"github.com/jeranaias/aicli/internal/storage"
	"github.com/jeranaias/aicli/internal/tools"
	"github.com/jeranaias/aicli/internal/ui"
)

// =============================================================================
// CONFIG MAPPING
// =============================================================================

func modelConfig(cfg *config.Config) model.Config {
	return model.Config{
		BaseURL:     cfg.Model.BaseURL,
		APIVersion:  cfg.Model.APIVersion,
		Model:       cfg.Model.Name,
		APIKey:      cfg.Model.APIKey,
		Temperature: float32(cfg.Model.Temperature),
		Timeout:     cfg.Model.Timeout,
	}
}

func agentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		MaxTurns:          cfg.Agent.MaxTurns,
		MaxRetries:        cfg.Model.MaxRetries,
		Backoff:           cfg.Model.Backoff,
		MaxBackoff:        cfg.Model.MaxBackoff,
		RequestsPerSecond: cfg.Model.RequestsPerSecond,
	}
}

func sandboxPolicy(cfg *config.Config) (sandbox.Policy, error) {
	root := cfg.Sandbox.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return sandbox.Policy{}, err
		}
		root = wd
	}
	policy, err := sandbox.NewPolicy(root)
	if err != nil {
		return sandbox.Policy{}, fmt.Errorf("sandbox root: %w", err)
	}
	policy.EnvAllowlist = cfg.Sandbox.EnvAllowlist
	if cfg.Sandbox.Timeout > 0 {
		policy.Timeout = cfg.Sandbox.Timeout
	}
	if cfg.Sandbox.MaxOutput > 0 {
		policy.MaxOutputBytes = int64(cfg.Sandbox.MaxOutput)
	}
	return policy, nil
}

func servicesConfig(cfg *config.Config) services.Config {
	return services.Config{
		MaxPageChars: cfg.Search.PageChars,
		Search: services.SearchConfig{
			APIKey:     cfg.Search.APIKey,
			EngineID:   cfg.Search.EngineID,
			Endpoint:   cfg.Search.Endpoint,
			MaxResults: cfg.Search.MaxResults,
			Excerpts:   cfg.Search.Excerpts,
		},
		Email: services.EmailConfig{
			Server:      cfg.Email.SMTPServer,
			Port:        cfg.Email.SMTPPort,
			Username:    cfg.Email.Username,
			Password:    cfg.Email.Password,
			Sender:      cfg.Email.Sender,
			Destination: cfg.Email.Destination,
			Timeout:     cfg.Email.Timeout,
		},
		Finance: services.FinanceConfig{
			APIKey:   cfg.Finance.APIKey,
			Endpoint: cfg.Finance.Endpoint,
		},
	}
}

func riskPolicy(cfg *config.Config) (*tools.RiskPolicy, error) {
	return tools.NewRiskPolicy(cfg.Dispatch.DangerousPatterns, cfg.Dispatch.AmbiguousPatterns, cfg.Dispatch.TierOverrides)
}

// =============================================================================
// TOOLS
// =============================================================================

// toolbox is the registry with the executor and policy behind it.
type toolbox struct {
	registry *tools.Registry
	executor *sandbox.Executor
	policy   sandbox.Policy
}

func buildTools(cfg *config.Config, log logrus.FieldLogger) (*toolbox, error) {
	policy, err := sandboxPolicy(cfg)
	if err != nil {
		return nil, err
	}
	executor := sandbox.NewExecutor(sandbox.WithLogger(log.WithField("component", "sandbox")))

	ed, err := editor.New(policy.Root,
		editor.WithFuzzLines(cfg.Editor.FuzzLines),
		editor.WithAllowOutsideRoot(cfg.Editor.AllowOutsideRoot),
		editor.WithLogger(log.WithField("component", "editor")))
	if err != nil {
		return nil, err
	}

	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg, executor, policy, ed); err != nil {
		return nil, err
	}
	if err := services.Register(reg, servicesConfig(cfg), log.WithField("component", "services")); err != nil {
		return nil, err
	}
	reg.Freeze()

	return &toolbox{registry: reg, executor: executor, policy: policy}, nil
}

// =============================================================================
// APP
// =============================================================================

// App is one configured agent: console, tools, model client, orchestrator
// and the current session.
type App struct {
	cfg     *config.Config
	log     *logrus.Logger
	console *ui.Console

	tools        *toolbox
	dispatcher   *tools.Dispatcher
	client       *model.Client
	orchestrator *agent.Orchestrator
	canceller    *agent.Canceller
	session      *agent.Session
	store        *storage.Store

	closers []io.Closer
}

// newApp wires every component from cfg. Close releases the log file and
// the transcript store.
func newApp(cfg *config.Config, opts *globalOptions, term *ui.Terminal) (*App, error) {
	app := &App{cfg: cfg, log: logrus.New()}

	closer, err := logging.Setup(app.log, cfg.Logging, opts.debug)
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	app.closers = append(app.closers, closer)

	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	app.console = ui.NewConsole(term,
		ui.WithSpinner(cfg.UI.Spinner),
		ui.WithMarkdown(cfg.UI.Markdown && !opts.noMarkdown),
		ui.WithLogger(app.log.WithField("component", "ui")))

	app.tools, err = buildTools(cfg, app.log)
	if err != nil {
		return nil, err
	}

	risk, err := riskPolicy(cfg)
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	app.dispatcher = tools.NewDispatcher(app.tools.registry,
		tools.WithConfirmer(app.console),
		tools.WithRiskPolicy(risk),
		tools.WithAutoApprove(cfg.Dispatch.AutoApprove || opts.yes),
		tools.WithHandlerTimeout(cfg.Dispatch.HandlerTimeout),
		tools.WithMaxOutputBytes(int(cfg.Dispatch.MaxResult)),
		tools.WithLogger(app.log.WithField("component", "dispatch")))

	app.client, err = model.New(modelConfig(cfg), model.WithLogger(app.log.WithField("component", "model")))
	if err != nil {
		if errors.Is(err, model.ErrNotConfigured) {
			return nil, usageErrorf("no model configured; run: aicli config set model.name <model>")
		}
		return nil, err
	}
	if cfg.Model.APIKey == "" {
		app.log.Warn("no API key configured; set AICLI_MODEL_API_KEY or model.api_key")
	}

	app.canceller = agent.NewCanceller()
	app.orchestrator = agent.NewOrchestrator(app.client, app.dispatcher, agentConfig(cfg),
		agent.WithCanceller(app.canceller),
		agent.WithObserver(app.console),
		agent.WithLogger(app.log.WithField("component", "agent")))

	if cfg.Storage.Enabled {
		app.openStore()
	}
	app.session = app.newSession()

	ok = true
	return app, nil
}

// openStore opens the transcript store. A store that cannot be opened
// disables recording for this run.
func (a *App) openStore() {
	path, err := a.cfg.StoragePath()
	if err == nil {
		a.store, err = storage.Open(path,
			storage.WithModel(a.cfg.Model.Name),
			storage.WithRoot(a.tools.policy.Root),
			storage.WithLogger(a.log.WithField("component", "storage")))
	}
	if err != nil {
		a.log.WithError(err).Warn("transcript store unavailable; history will not be saved")
		return
	}
	a.closers = append(a.closers, a.store)
}

func (a *App) newSession() *agent.Session {
	var names []string
	for _, spec := range a.tools.registry.All() {
		names = append(names, spec.Name)
	}
	prompt := agent.SystemPrompt(agent.PromptInfo{
		Now:   time.Now(),
		OS:    runtime.GOOS,
		Shell: a.tools.executor.Shell().Describe(),
		Root:  a.tools.policy.Root,
		Tools: names,
		Extra: a.cfg.Agent.SystemPromptExtra,
	})

	opts := []agent.SessionOption{agent.WithSessionLogger(a.log.WithField("component", "session"))}
	if a.store != nil {
		opts = append(opts, agent.WithRecorder(a.store))
	}
	return agent.NewSession(prompt, opts...)
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
