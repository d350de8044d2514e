// Package compose renders the two-service manifest (application and
// database) the bootstrap writes to disk before starting the stack.
// Rendering is pure: the same configuration always yields the same
// bytes, which makes first-boot reruns and tests comparable.
package compose

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is where the bootstrap writes the manifest on the host.
	DefaultPath = "/opt/ctfd/docker-compose.yml"

	defaultCTFdImage = "ctfd/ctfd:3.7.5"
	defaultDBImage   = "mariadb:10.11"
	defaultHTTPPort  = 80
)

// Config carries the deployment-specific parameters injected into the
// manifest. Everything else is fixed by the template.
type Config struct {
	CTFdImage string
	DBImage   string
	HTTPPort  int

	// SigningSecret seeds the application session signing key.
	SigningSecret string
	DBPassword    string

	AdminEmail    string
	AdminPassword string
}

func (c Config) withDefaults() Config {
	if c.CTFdImage == "" {
		c.CTFdImage = defaultCTFdImage
	}
	if c.DBImage == "" {
		c.DBImage = defaultDBImage
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = defaultHTTPPort
	}
	return c
}

func (c Config) validate() error {
	if c.SigningSecret == "" {
		return errors.New("signing secret is required")
	}
	if c.DBPassword == "" {
		return errors.New("database password is required")
	}
	if c.AdminEmail == "" || c.AdminPassword == "" {
		return errors.New("admin credentials are required")
	}
	return nil
}

type manifest struct {
	Services map[string]service   `yaml:"services"`
	Volumes  map[string]*struct{} `yaml:"volumes"`
}

type service struct {
	Image       string            `yaml:"image"`
	Restart     string            `yaml:"restart"`
	Ports       []string          `yaml:"ports,omitempty"`
	Environment map[string]string `yaml:"environment"`
	Volumes     []string          `yaml:"volumes"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
}

// Render produces the manifest bytes for the given configuration.
// Identical configuration yields byte-identical output.
func Render(cfg Config) ([]byte, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := manifest{
		Services: map[string]service{
			"ctfd": {
				Image:   cfg.CTFdImage,
				Restart: "always",
				Ports:   []string{fmt.Sprintf("%d:8000", cfg.HTTPPort)},
				Environment: map[string]string{
					"DATABASE_URL":  fmt.Sprintf("mysql+pymysql://ctfd:%s@db/ctfd", cfg.DBPassword),
					"SECRET_KEY":    cfg.SigningSecret,
					"UPLOAD_FOLDER": "/var/uploads",
					"ADMIN_EMAIL":   cfg.AdminEmail,
					"ADMIN_PASS":    cfg.AdminPassword,
					"REVERSE_PROXY": "false",
				},
				Volumes: []string{
					"ctfd-uploads:/var/uploads",
				},
				// db must be up before the application so its first
				// migration does not race the database init.
				DependsOn: []string{"db"},
			},
			"db": {
				Image:   cfg.DBImage,
				Restart: "always",
				Environment: map[string]string{
					"MYSQL_ROOT_PASSWORD": cfg.DBPassword,
					"MYSQL_USER":          "ctfd",
					"MYSQL_PASSWORD":      cfg.DBPassword,
					"MYSQL_DATABASE":      "ctfd",
				},
				Volumes: []string{
					"db-data:/var/lib/mysql",
				},
			},
		},
		Volumes: map[string]*struct{}{
			"ctfd-uploads": nil,
			"db-data":      nil,
		},
	}

	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling compose manifest")
	}
	return b, nil
}

// Write persists the manifest at path, creating parent directories as
// needed.
func Write(fs afero.Fs, path string, b []byte) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating manifest directory")
	}
	if err := afero.WriteFile(fs, path, b, 0o600); err != nil {
		return errors.Wrap(err, "writing manifest")
	}
	return nil
}
