// Package challsync turns one challenge-asset upload event into
// creation calls against the running application. Each invocation is
// independent: the handler keeps no state between events and fetches
// the admin credential fresh every time, so it tolerates being invoked
// before bootstrap has completed (that is simply a credential-
// unavailable failure, not a crash).
package challsync

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ctfer-io/ctfd-deploy/global"
	"github.com/ctfer-io/ctfd-deploy/pkg/blob"
	"github.com/ctfer-io/ctfd-deploy/pkg/challenge"
	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
	"github.com/ctfer-io/ctfd-deploy/pkg/secrets"
)

// Event is one storage notification, reduced to what the handler
// needs.
type Event struct {
	Bucket    string
	Key       string
	EventName string
}

// AppClient is the content-creation slice of the application API.
type AppClient interface {
	CreateChallenge(ctx context.Context, chall challenge.Challenge) error
}

// ClientFactory builds an application client authorized with the
// fetched token. Injected so the handler is testable without an HTTP
// server.
type ClientFactory func(token string) (AppClient, error)

// Config is the handler's construction-time wiring; nothing is read
// from ambient environment inside the state machine.
type Config struct {
	SecretName string

	// Suffixes lists the accepted object key extensions. The upload
	// notification is already filtered, but filters are an external
	// contract, so the handler re-checks.
	Suffixes []string
}

func (c Config) withDefaults() Config {
	if len(c.Suffixes) == 0 {
		c.Suffixes = []string{".yaml", ".yml"}
		return c
	}
	// Keys are lowercased before matching, so suffixes must be too.
	lowered := make([]string, 0, len(c.Suffixes))
	for _, suffix := range c.Suffixes {
		lowered = append(lowered, strings.ToLower(suffix))
	}
	c.Suffixes = lowered
	return c
}

// RecordFailure is one challenge that could not be applied.
type RecordFailure struct {
	Name      string
	Duplicate bool
	Err       error
}

// Result summarizes one invocation.
type Result struct {
	InvocationID string
	Skipped      bool
	Applied      int
	Failures     []RecordFailure
}

// Handler runs the per-event state machine.
type Handler struct {
	cfg       Config
	secrets   secrets.Store
	objects   blob.Store
	newClient ClientFactory
	reporter  Reporter
}

func NewHandler(cfg Config, sec secrets.Store, obj blob.Store, factory ClientFactory, opts ...HandlerOption) *Handler {
	h := &Handler{
		cfg:       cfg.withDefaults(),
		secrets:   sec,
		objects:   obj,
		newClient: factory,
		reporter:  LogReporter{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type HandlerOption func(*Handler)

// WithReporter routes per-record apply failures somewhere other than
// the log.
func WithReporter(r Reporter) HandlerOption {
	return func(h *Handler) { h.reporter = r }
}

// Handle processes one event. A returned error means the whole
// invocation failed before anything was applied (credential, object or
// parse failure); per-record apply failures are carried in the result
// and reported, not returned, since partial application is the
// accepted semantics.
func (h *Handler) Handle(ctx context.Context, ev Event) (*Result, error) {
	ctx, span := global.Tracer.Start(ctx, "challsync")
	defer span.End()

	res := &Result{InvocationID: uuid.NewString()}
	logger := global.Log().With(
		zap.String("invocation_id", res.InvocationID),
		zap.String("bucket", ev.Bucket),
		zap.String("key", ev.Key),
	)

	// Defensive re-check of the notification filter contract.
	if !h.accepts(ev) {
		logger.Warn(ctx, "event rejected by suffix filter", zap.String("event", ev.EventName))
		res.Skipped = true
		return res, nil
	}

	// SecretFetched
	token, err := h.secrets.Get(ctx, h.cfg.SecretName)
	if err != nil {
		logger.Warn(ctx, "admin credential unavailable, is bootstrap complete?", zap.Error(err))
		return res, err
	}

	// ObjectFetched
	body, err := h.objects.Get(ctx, ev.Bucket, ev.Key)
	if err != nil {
		logger.Error(ctx, "challenge asset unavailable", zap.Error(err))
		return res, err
	}

	// Parsed: all records or none, a malformed file is never
	// half-applied.
	challs, err := challenge.Decode(ev.Key, body)
	if err != nil {
		logger.Error(ctx, "challenge asset does not decode", zap.Error(err))
		return res, err
	}

	client, err := h.newClient(token)
	if err != nil {
		return res, &errs.ErrInternal{Sub: err}
	}

	// Applied: records succeed or fail independently, no rollback.
	for _, chall := range challs {
		if err := client.CreateChallenge(ctx, chall); err != nil {
			var dup *errs.ErrDuplicate
			failure := RecordFailure{Name: chall.Name, Err: err}
			if errors.As(err, &dup) {
				failure.Duplicate = true
			}
			res.Failures = append(res.Failures, failure)
			h.reporter.RecordFailure(ctx, ev.Key, failure)
			continue
		}
		res.Applied++
	}

	logger.Info(ctx, "sync finished",
		zap.Int("applied", res.Applied),
		zap.Int("failed", len(res.Failures)),
	)
	return res, nil
}

// Err flattens the per-record failures for callers that want a single
// error value for the invocation.
func (r *Result) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f.Err)
	}
	return err
}

func (h *Handler) accepts(ev Event) bool {
	if ev.EventName != "" && !strings.HasPrefix(ev.EventName, "ObjectCreated") {
		return false
	}
	key := strings.ToLower(ev.Key)
	for _, suffix := range h.cfg.Suffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}
