package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/hellofresh/health-go/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	awsevents "github.com/aws/aws-lambda-go/events"

	"github.com/ctfer-io/ctfd-deploy/api/events"
	"github.com/ctfer-io/ctfd-deploy/global"
	"github.com/ctfer-io/ctfd-deploy/pkg/blob"
	"github.com/ctfer-io/ctfd-deploy/pkg/challsync"
	"github.com/ctfer-io/ctfd-deploy/pkg/ctfd"
	"github.com/ctfer-io/ctfd-deploy/pkg/secrets"
)

func main() {
	cmd := &cli.Command{
		Name:    "ctfd-challsync",
		Usage:   "push uploaded challenge definitions into a running CTFd instance",
		Version: global.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "mode",
				Value:   "lambda",
				Usage:   "execution mode (lambda or serve)",
				Sources: cli.EnvVars("SYNC_MODE"),
			},
			&cli.StringFlag{
				Name:     "url",
				Required: true,
				Usage:    "base URL of the application",
				Sources:  cli.EnvVars("CTFD_URL"),
			},
			&cli.StringFlag{
				Name:    "secret-backend",
				Value:   "awssm",
				Sources: cli.EnvVars("SECRET_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "secret-name",
				Value:   "ctfd/admin-token",
				Sources: cli.EnvVars("SECRET_NAME"),
			},
			&cli.StringFlag{
				Name:    "etcd-endpoint",
				Value:   "127.0.0.1:2379",
				Sources: cli.EnvVars("ETCD_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "etcd-username",
				Sources: cli.EnvVars("ETCD_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "etcd-password",
				Sources: cli.EnvVars("ETCD_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "object-backend",
				Value:   "s3",
				Usage:   "object store backend (s3 or fsdir)",
				Sources: cli.EnvVars("OBJECT_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "object-root",
				Value:   "/var/lib/ctfd-deploy/buckets",
				Usage:   "bucket root directory for the fsdir backend",
				Sources: cli.EnvVars("OBJECT_ROOT"),
			},
			&cli.StringFlag{
				Name:    "listen",
				Value:   ":8080",
				Usage:   "listen address in serve mode",
				Sources: cli.EnvVars("SYNC_LISTEN"),
			},
			&cli.DurationFlag{
				Name:    "invocation-timeout",
				Value:   30 * time.Second,
				Usage:   "hard bound on one event's processing time",
				Sources: cli.EnvVars("SYNC_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Sources: cli.EnvVars("OTEL_TRACING"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		global.Log().Error(context.Background(), "challsync failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	global.Conf.LogLevel = cmd.String("log-level")
	global.Conf.CTFd.URL = cmd.String("url")
	global.Conf.Secret.Backend = cmd.String("secret-backend")
	global.Conf.Secret.Name = cmd.String("secret-name")
	global.Conf.Etcd.Endpoint = cmd.String("etcd-endpoint")
	global.Conf.Etcd.Username = cmd.String("etcd-username")
	global.Conf.Etcd.Password = cmd.String("etcd-password")
	global.Conf.Otel.Tracing = cmd.Bool("tracing")
	global.Conf.Otel.ServiceName = "ctfd-challsync"

	stopTracing, err := global.SetupTracing(ctx)
	if err != nil {
		return errors.Wrap(err, "setting up tracing")
	}
	defer func() {
		_ = stopTracing(context.Background())
	}()

	handler, store, err := buildHandler(ctx, cmd)
	if err != nil {
		return err
	}

	timeout := cmd.Duration("invocation-timeout")
	switch cmd.String("mode") {
	case "lambda":
		lambda.Start(func(ctx context.Context, ev awsevents.S3Event) error {
			return handleAll(ctx, handler, timeout, ev)
		})
		return nil
	case "serve":
		return serve(ctx, cmd.String("listen"), handler, store, timeout)
	default:
		return errors.Errorf("unknown mode %q", cmd.String("mode"))
	}
}

func buildHandler(ctx context.Context, cmd *cli.Command) (*challsync.Handler, secrets.Store, error) {
	var store secrets.Store
	var objects blob.Store

	needAWS := global.Conf.Secret.Backend == "awssm" || cmd.String("object-backend") == "s3"
	var awscfgLoaded bool
	var smClient *secretsmanager.Client
	var s3Client *s3.Client
	if needAWS {
		awscfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "loading AWS configuration")
		}
		awscfgLoaded = true
		smClient = secretsmanager.NewFromConfig(awscfg)
		s3Client = s3.NewFromConfig(awscfg)
	}

	switch global.Conf.Secret.Backend {
	case "awssm":
		store = secrets.NewAWSSM(smClient)
	case "etcd":
		kv, err := secrets.NewEtcdKV(
			global.Conf.Etcd.Endpoint,
			global.Conf.Etcd.Username,
			global.Conf.Etcd.Password,
		)
		if err != nil {
			return nil, nil, err
		}
		store = kv
	default:
		return nil, nil, errors.Errorf("unknown secret backend %q", global.Conf.Secret.Backend)
	}

	switch cmd.String("object-backend") {
	case "s3":
		if !awscfgLoaded {
			return nil, nil, errors.New("s3 object backend requires AWS configuration")
		}
		objects = blob.NewS3(s3Client)
	case "fsdir":
		objects = blob.NewFSDir(afero.NewOsFs(), cmd.String("object-root"))
	default:
		return nil, nil, errors.Errorf("unknown object backend %q", cmd.String("object-backend"))
	}

	factory := func(token string) (challsync.AppClient, error) {
		return ctfd.NewClient(global.Conf.CTFd.URL, ctfd.WithToken(token))
	}

	return challsync.NewHandler(
		challsync.Config{SecretName: global.Conf.Secret.Name},
		store,
		objects,
		factory,
	), store, nil
}

// handleAll processes every record of one envelope under the
// invocation timeout, failing fast instead of blocking past it.
func handleAll(ctx context.Context, handler *challsync.Handler, timeout time.Duration, ev awsevents.S3Event) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	evs, err := events.FromS3(ev)
	if err != nil {
		return err
	}

	var merr error
	for _, e := range evs {
		res, herr := handler.Handle(ctx, e)
		challsync.Observe(res, herr)
		merr = multierr.Append(merr, herr)
	}
	return merr
}

// newMux assembles the serve-mode surface: webhook ingest, metrics,
// health.
func newMux(handler *challsync.Handler, store secrets.Store, timeout time.Duration) (*http.ServeMux, error) {
	h, err := health.New(health.WithComponent(health.Component{
		Name:    "ctfd-challsync",
		Version: global.Version,
	}))
	if err != nil {
		return nil, errors.Wrap(err, "building health checker")
	}
	_ = h.Register(health.Config{
		Name:      "secret-store",
		Timeout:   5 * time.Second,
		SkipOnErr: true,
		Check: func(ctx context.Context) error {
			// Unavailability of the value is fine here, only store
			// reachability matters. Get folds both into the same error
			// kind, so probe through Ping instead.
			p, ok := store.(secrets.Pinger)
			if !ok {
				return nil
			}
			return p.Ping(ctx, global.Conf.Secret.Name)
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", h.Handler())
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "reading body", http.StatusBadRequest)
			return
		}
		evs, err := events.Decode(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		rctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		status := http.StatusOK
		for _, e := range evs {
			res, herr := handler.Handle(rctx, e)
			challsync.Observe(res, herr)
			if herr != nil {
				status = http.StatusUnprocessableEntity
			}
		}
		w.WriteHeader(status)
	})
	return mux, nil
}

func serve(ctx context.Context, addr string, handler *challsync.Handler, store secrets.Store, timeout time.Duration) error {
	logger := global.Log()

	mux, err := newMux(handler, store, timeout)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "challsync serving", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
