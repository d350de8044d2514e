package runtime

import (
	"context"
	"os/exec"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ctfer-io/ctfd-deploy/global"
)

// Docker installs the docker engine through the distribution package
// manager and starts stacks with the compose plugin.
type Docker struct{}

var _ Runtime = (*Docker)(nil)

func NewDocker() *Docker {
	return &Docker{}
}

func (d *Docker) Install(ctx context.Context) error {
	logger := global.Log()

	if _, err := exec.LookPath("docker"); err == nil {
		logger.Info(ctx, "container runtime already installed")
	} else {
		logger.Info(ctx, "installing container runtime")
		if err := run(ctx, "sh", "-c",
			"apt-get update -y && apt-get install -y docker.io docker-compose-v2",
		); err != nil {
			return errors.Wrap(err, "installing docker")
		}
	}

	if err := run(ctx, "systemctl", "enable", "--now", "docker"); err != nil {
		return errors.Wrap(err, "enabling docker service")
	}
	return nil
}

func (d *Docker) ComposeUp(ctx context.Context, manifestPath string) error {
	global.Log().Info(ctx, "starting services", zap.String("manifest", manifestPath))
	if err := run(ctx, "docker", "compose", "-f", manifestPath, "up", "-d"); err != nil {
		return errors.Wrap(err, "starting compose services")
	}
	return nil
}

func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s: %s", name, string(out))
	}
	return nil
}
