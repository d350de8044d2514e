// Package bootstrap drives a freshly provisioned host from bare OS to
// a running, credentialed application. The sequence is a strict linear
// state machine: runtime install, manifest render, service start,
// health polling, token issuance, secret persistence. No step may be
// skipped or reordered, and each later state implies all earlier ones.
package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ctfer-io/ctfd-deploy/global"
	"github.com/ctfer-io/ctfd-deploy/pkg/compose"
	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
	"github.com/ctfer-io/ctfd-deploy/pkg/retry"
	"github.com/ctfer-io/ctfd-deploy/pkg/runtime"
	"github.com/ctfer-io/ctfd-deploy/pkg/secrets"
)

// State names the stations of the bootstrap chain.
type State string

const (
	StateInit                State = "init"
	StateRuntimeReady        State = "runtime_ready"
	StateManifestRendered    State = "manifest_rendered"
	StateServicesStarted     State = "services_started"
	StateHealthConfirmed     State = "health_confirmed"
	StateCredentialIssued    State = "credential_issued"
	StateCredentialPersisted State = "credential_persisted"
)

const (
	stepInstallRuntime = "install_runtime"
	stepRenderManifest = "render_manifest"
	stepStartServices  = "start_services"
	stepAwaitHealth    = "await_health"
	stepIssueToken     = "issue_admin_token"
	stepPersistToken   = "persist_token"
)

// Application is the slice of the application client the bootstrap
// needs: a liveness probe and one-shot token issuance.
type Application interface {
	Ping(ctx context.Context) error
	IssueToken(ctx context.Context, name string) (string, error)
}

// Config carries everything the orchestrator needs; all of it is baked
// in at render time from deployment configuration, there is no
// interactive input.
type Config struct {
	ManifestPath string
	Compose      compose.Config

	SecretName string
	TokenName  string

	// Poll bounds the health wait: MaxAttempts fixed-interval probes,
	// no backoff.
	Poll *retry.Poller
}

// Orchestrator runs the bootstrap exactly once.
type Orchestrator struct {
	cfg   Config
	fs    afero.Fs
	rt    runtime.Runtime
	app   Application
	store secrets.Store

	mu    sync.RWMutex
	state State
}

func NewOrchestrator(cfg Config, fs afero.Fs, rt runtime.Runtime, app Application, store secrets.Store) *Orchestrator {
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = compose.DefaultPath
	}
	if cfg.Poll == nil {
		cfg.Poll = retry.NewPoller(30, 10*time.Second)
	}
	return &Orchestrator{
		cfg:   cfg,
		fs:    fs,
		rt:    rt,
		app:   app,
		store: store,
		state: StateInit,
	}
}

// State reports the current station. Read by the progress health
// endpoint while the bootstrap runs.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) advance(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Reached reports whether the chain has progressed at least to s.
func (o *Orchestrator) Reached(s State) bool {
	order := []State{
		StateInit, StateRuntimeReady, StateManifestRendered,
		StateServicesStarted, StateHealthConfirmed,
		StateCredentialIssued, StateCredentialPersisted,
	}
	cur := o.State()
	var curIdx, wantIdx int
	for i, st := range order {
		if st == cur {
			curIdx = i
		}
		if st == s {
			wantIdx = i
		}
	}
	return curIdx >= wantIdx
}

// Run executes the chain. It returns a fatal error only for failures
// before the health probe; a health timeout yields a nil error with
// Report.Uncredentialed set, as the services themselves keep running.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	logger := global.Log()
	report := &Report{StartedAt: time.Now()}
	defer func() { report.EndedAt = time.Now() }()

	// install_runtime
	start := time.Now()
	ctx, span := global.Tracer.Start(ctx, "bootstrap")
	defer span.End()
	if err := o.rt.Install(ctx); err != nil {
		report.record(stepInstallRuntime, start, StepFailed, err.Error())
		report.skipRemaining(stepRenderManifest, stepStartServices, stepAwaitHealth, stepIssueToken, stepPersistToken)
		return report, &errs.ErrFatalProvisioning{Step: stepInstallRuntime, Sub: err}
	}
	o.advance(StateRuntimeReady)
	report.record(stepInstallRuntime, start, StepSuccess, "")

	// render_manifest
	start = time.Now()
	manifest, err := compose.Render(o.cfg.Compose)
	if err == nil {
		err = compose.Write(o.fs, o.cfg.ManifestPath, manifest)
	}
	if err != nil {
		report.record(stepRenderManifest, start, StepFailed, err.Error())
		report.skipRemaining(stepStartServices, stepAwaitHealth, stepIssueToken, stepPersistToken)
		return report, &errs.ErrFatalProvisioning{Step: stepRenderManifest, Sub: err}
	}
	o.advance(StateManifestRendered)
	report.record(stepRenderManifest, start, StepSuccess, "")

	// start_services
	start = time.Now()
	if err := o.rt.ComposeUp(ctx, o.cfg.ManifestPath); err != nil {
		report.record(stepStartServices, start, StepFailed, err.Error())
		report.skipRemaining(stepAwaitHealth, stepIssueToken, stepPersistToken)
		return report, &errs.ErrFatalProvisioning{Step: stepStartServices, Sub: err}
	}
	o.advance(StateServicesStarted)
	report.record(stepStartServices, start, StepSuccess, "")

	// await_health
	start = time.Now()
	if err := o.cfg.Poll.Do(ctx, o.app.Ping); err != nil {
		// Not fatal to the host: services stay up, but nothing past
		// this point may run. The absence of a persisted secret is the
		// downstream signal.
		herr := &errs.ErrHealthTimeout{Attempts: o.cfg.Poll.MaxAttempts, Sub: err}
		logger.Warn(ctx, "application never became healthy, leaving deployment uncredentialed",
			zap.Error(herr),
		)
		report.record(stepAwaitHealth, start, StepFailed, herr.Error())
		report.skipRemaining(stepIssueToken, stepPersistToken)
		report.Uncredentialed = true
		return report, nil
	}
	o.advance(StateHealthConfirmed)
	report.record(stepAwaitHealth, start, StepSuccess, "")
	logger.Info(ctx, "application healthy", zap.Duration("waited", time.Since(start)))

	// issue_admin_token
	start = time.Now()
	token, err := o.app.IssueToken(ctx, o.cfg.TokenName)
	if err != nil || token == "" {
		// Non-fatal: bootstrap ends without a stored credential
		// rather than crashing.
		logger.Warn(ctx, "no usable admin token issued", zap.Error(err))
		report.record(stepIssueToken, start, StepFailed, messageOf(err))
		report.skipRemaining(stepPersistToken)
		report.Uncredentialed = true
		return report, nil
	}
	o.advance(StateCredentialIssued)
	report.record(stepIssueToken, start, StepSuccess, "")

	// persist_token
	start = time.Now()
	if err := o.store.Put(ctx, o.cfg.SecretName, token); err != nil {
		logger.Error(ctx, "persisting admin token failed", zap.Error(err))
		report.record(stepPersistToken, start, StepFailed, err.Error())
		report.Uncredentialed = true
		return report, nil
	}
	o.advance(StateCredentialPersisted)
	report.record(stepPersistToken, start, StepSuccess, "")
	logger.Info(ctx, "bootstrap complete", zap.String("secret", o.cfg.SecretName))

	return report, nil
}

func messageOf(err error) string {
	if err == nil {
		return "empty token value"
	}
	return err.Error()
}
