package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	json "github.com/goccy/go-json"
	"github.com/hellofresh/health-go/v5"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/ctfer-io/ctfd-deploy/global"
	"github.com/ctfer-io/ctfd-deploy/pkg/bootstrap"
	"github.com/ctfer-io/ctfd-deploy/pkg/compose"
	"github.com/ctfer-io/ctfd-deploy/pkg/ctfd"
	"github.com/ctfer-io/ctfd-deploy/pkg/retry"
	"github.com/ctfer-io/ctfd-deploy/pkg/runtime"
	"github.com/ctfer-io/ctfd-deploy/pkg/secrets"
)

func main() {
	cmd := &cli.Command{
		Name:    "ctfd-bootstrap",
		Usage:   "bring a freshly launched host to a running, credentialed CTFd instance",
		Version: global.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "url",
				Value:   "http://127.0.0.1",
				Usage:   "base URL of the application once it is up",
				Sources: cli.EnvVars("CTFD_URL"),
			},
			&cli.StringFlag{
				Name:    "admin-email",
				Value:   "admin@ctfd.local",
				Sources: cli.EnvVars("CTFD_ADMIN_EMAIL"),
			},
			&cli.StringFlag{
				Name:     "admin-password",
				Required: true,
				Sources:  cli.EnvVars("CTFD_ADMIN_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "token-name",
				Value:   "ctfd-deploy",
				Sources: cli.EnvVars("CTFD_TOKEN_NAME"),
			},
			&cli.StringFlag{
				Name:    "secret-backend",
				Value:   "awssm",
				Usage:   "secret store backend (awssm or etcd)",
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
				Name:    "manifest-path",
				Value:   compose.DefaultPath,
				Sources: cli.EnvVars("MANIFEST_PATH"),
			},
			&cli.IntFlag{
				Name:    "health-attempts",
				Value:   30,
				Sources: cli.EnvVars("HEALTH_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "health-interval",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("HEALTH_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "progress-addr",
				Value:   ":8081",
				Usage:   "listen address of the bootstrap progress endpoint",
				Sources: cli.EnvVars("PROGRESS_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Sources: cli.EnvVars("OTEL_TRACING"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		// A nonzero exit leaves the host visibly broken for external
		// detection; there is no in-place remediation.
		global.Log().Error(context.Background(), "bootstrap failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	global.Conf.LogLevel = cmd.String("log-level")
	global.Conf.CTFd.URL = cmd.String("url")
	global.Conf.CTFd.AdminEmail = cmd.String("admin-email")
	global.Conf.CTFd.AdminPassword = cmd.String("admin-password")
	global.Conf.CTFd.TokenName = cmd.String("token-name")
	global.Conf.Secret.Backend = cmd.String("secret-backend")
	global.Conf.Secret.Name = cmd.String("secret-name")
	global.Conf.Etcd.Endpoint = cmd.String("etcd-endpoint")
	global.Conf.Etcd.Username = cmd.String("etcd-username")
	global.Conf.Etcd.Password = cmd.String("etcd-password")
	global.Conf.Otel.Tracing = cmd.Bool("tracing")
	global.Conf.Otel.ServiceName = "ctfd-bootstrap"

	stopTracing, err := global.SetupTracing(ctx)
	if err != nil {
		return errors.Wrap(err, "setting up tracing")
	}
	defer func() {
		_ = stopTracing(context.Background())
	}()

	store, err := buildSecretStore(ctx)
	if err != nil {
		return err
	}

	app, err := ctfd.NewClient(global.Conf.CTFd.URL,
		ctfd.WithAdminCredentials(global.Conf.CTFd.AdminEmail, global.Conf.CTFd.AdminPassword),
	)
	if err != nil {
		return errors.Wrap(err, "building application client")
	}

	orch := bootstrap.NewOrchestrator(bootstrap.Config{
		ManifestPath: cmd.String("manifest-path"),
		Compose: compose.Config{
			SigningSecret: randSecret(),
			DBPassword:    randSecret(),
			AdminEmail:    global.Conf.CTFd.AdminEmail,
			AdminPassword: global.Conf.CTFd.AdminPassword,
		},
		SecretName: global.Conf.Secret.Name,
		TokenName:  global.Conf.CTFd.TokenName,
		Poll:       retry.NewPoller(int(cmd.Int("health-attempts")), cmd.Duration("health-interval")),
	}, afero.NewOsFs(), runtime.NewDocker(), app, store)

	stopProgress := serveProgress(ctx, cmd.String("progress-addr"), orch, app)
	defer stopProgress()

	report, err := orch.Run(ctx)
	logReport(ctx, report)
	return err
}

func buildSecretStore(ctx context.Context) (secrets.Store, error) {
	switch global.Conf.Secret.Backend {
	case "awssm":
		awscfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "loading AWS configuration")
		}
		return secrets.NewAWSSM(secretsmanager.NewFromConfig(awscfg)), nil
	case "etcd":
		return secrets.NewEtcdKV(
			global.Conf.Etcd.Endpoint,
			global.Conf.Etcd.Username,
			global.Conf.Etcd.Password,
		)
	default:
		return nil, errors.Errorf("unknown secret backend %q", global.Conf.Secret.Backend)
	}
}

// serveProgress exposes the bootstrap progression over HTTP so
// external automation can watch first boot without parsing logs.
func serveProgress(ctx context.Context, addr string, orch *bootstrap.Orchestrator, app *ctfd.Client) func() {
	h, err := health.New(health.WithComponent(health.Component{
		Name:    "ctfd-bootstrap",
		Version: global.Version,
	}))
	if err != nil {
		global.Log().Warn(ctx, "progress endpoint disabled", zap.Error(err))
		return func() {}
	}

	_ = h.Register(health.Config{
		Name: "services-started",
		Check: func(context.Context) error {
			if !orch.Reached(bootstrap.StateServicesStarted) {
				return errors.New("services not started yet")
			}
			return nil
		},
	})
	_ = h.Register(health.Config{
		Name:      "application",
		Timeout:   5 * time.Second,
		SkipOnErr: true,
		Check:     app.Ping,
	})

	mux := http.NewServeMux()
	mux.Handle("/healthz", h.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			global.Log().Warn(ctx, "progress endpoint stopped", zap.Error(err))
		}
	}()
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
}

func logReport(ctx context.Context, report *bootstrap.Report) {
	if report == nil {
		return
	}
	b, err := json.Marshal(report)
	if err != nil {
		global.Log().Warn(ctx, "cannot marshal bootstrap report", zap.Error(err))
		return
	}
	global.Log().Info(ctx, "bootstrap report",
		zap.ByteString("report", b),
		zap.Bool("uncredentialed", report.Uncredentialed),
	)
}

func randSecret() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
