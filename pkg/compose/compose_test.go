package compose_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ctfer-io/ctfd-deploy/pkg/compose"
)

func validConfig() compose.Config {
	return compose.Config{
		SigningSecret: "0123456789abcdef",
		DBPassword:    "dbpass",
		AdminEmail:    "admin@ctfd.local",
		AdminPassword: "ctfdadmin",
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	cfg := validConfig()

	first, err := compose.Render(cfg)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := compose.Render(cfg)
		require.NoError(t, err)
		assert.Equal(t, first, again, "render must be byte-identical for identical config")
	}
}

func TestRenderDeclaresStartOrder(t *testing.T) {
	b, err := compose.Render(validConfig())
	require.NoError(t, err)

	var m struct {
		Services map[string]struct {
			Image     string   `yaml:"image"`
			DependsOn []string `yaml:"depends_on"`
		} `yaml:"services"`
		Volumes map[string]any `yaml:"volumes"`
	}
	require.NoError(t, yaml.Unmarshal(b, &m))

	require.Contains(t, m.Services, "ctfd")
	require.Contains(t, m.Services, "db")
	assert.Equal(t, []string{"db"}, m.Services["ctfd"].DependsOn)
	assert.Empty(t, m.Services["db"].DependsOn)
	assert.Contains(t, m.Volumes, "ctfd-uploads")
	assert.Contains(t, m.Volumes, "db-data")
}

func TestRenderInjectsParameters(t *testing.T) {
	cfg := validConfig()
	cfg.SigningSecret = "supersecret"

	b, err := compose.Render(cfg)
	require.NoError(t, err)

	var m struct {
		Services map[string]struct {
			Environment map[string]string `yaml:"environment"`
		} `yaml:"services"`
	}
	require.NoError(t, yaml.Unmarshal(b, &m))

	env := m.Services["ctfd"].Environment
	assert.Equal(t, "supersecret", env["SECRET_KEY"])
	assert.Equal(t, "admin@ctfd.local", env["ADMIN_EMAIL"])
	assert.Contains(t, env["DATABASE_URL"], "dbpass")
}

func TestRenderRejectsMissingSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.SigningSecret = ""
	_, err := compose.Render(cfg)
	require.Error(t, err)

	cfg = validConfig()
	cfg.AdminPassword = ""
	_, err = compose.Render(cfg)
	require.Error(t, err)
}

func TestWriteCreatesParentDirs(t *testing.T) {
	fs := afero.NewMemMapFs()

	b, err := compose.Render(validConfig())
	require.NoError(t, err)
	require.NoError(t, compose.Write(fs, "/opt/ctfd/docker-compose.yml", b))

	got, err := afero.ReadFile(fs, "/opt/ctfd/docker-compose.yml")
	require.NoError(t, err)
	assert.Equal(t, b, got)
}
