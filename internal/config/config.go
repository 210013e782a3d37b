// Package config loads application configuration from YAML. Every
// field has a working default, so a config file only needs to state
// what differs from the stock portal deployment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML duration strings like "90s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Portal holds the endpoints and request identity used against the
// banking portal. The portal fingerprints clients, so the user agent
// default must not change casually.
type Portal struct {
	BaseURL   string   `yaml:"base_url"`
	UserAgent string   `yaml:"user_agent"`
	Timeout   Duration `yaml:"timeout"`

	Endpoints Endpoints `yaml:"endpoints"`
}

// Endpoints are the portal paths, relative to BaseURL.
type Endpoints struct {
	LoginPage   string `yaml:"login_page"`
	Login       string `yaml:"login"`
	HomeBanking string `yaml:"home_banking"`
	Summary     string `yaml:"summary"`
	ExportPage  string `yaml:"export_page"`
	ExportOFX   string `yaml:"export_ofx"`
	ExportCSV   string `yaml:"export_csv"`
	Logout      string `yaml:"logout"`
}

// Server configures the device registration API.
type Server struct {
	Listen string `yaml:"listen"`

	// Token is the static bearer token required on /api routes. Empty
	// disables the server.
	Token string `yaml:"token"`
}

// Push configures notification delivery. Notifications are sent only
// when a client certificate is configured.
type Push struct {
	Gateway  string `yaml:"gateway"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// Config is the root configuration document.
type Config struct {
	Portal      Portal `yaml:"portal"`
	AnswersPath string `yaml:"answers_path"`
	StorePath   string `yaml:"store_path"`
	Server      Server `yaml:"server"`
	Push        Push   `yaml:"push"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Portal: Portal{
			BaseURL:   "https://www.bancfirstonline.com",
			UserAgent: "Mozilla/5.0 (Windows; U; Windows NT 5.1; tr-TR; rv:1.7.6) Gecko/20050321 Firefox/1.0.2",
			Timeout:   Duration(2 * time.Minute),
			Endpoints: Endpoints{
				LoginPage:   "/onlineserv/HB/Login.cgi",
				Login:       "/onlineserv/HB/Login.cgi",
				HomeBanking: "/onlineserv/HB/HomeBanking.cgi",
				Summary:     "/onlineserv/HB/Summary.cgi",
				ExportPage:  "/onlineserv/HB/Summary.cgi?state=export&primaryButton=ACCOUNT_ACCESS&secondaryButton=EXPORT",
				ExportOFX:   "/onlineserv/HB/Money.ofx",
				ExportCSV:   "/onlineserv/HB/Export.csv",
				Logout:      "/onlineserv/HB/Logout.cgi",
			},
		},
		AnswersPath: "answers.yaml",
		StorePath:   "autopilot.db",
		Server: Server{
			Listen: ":8080",
		},
		Push: Push{
			Gateway: "gateway.push.apple.com:2195",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Portal.BaseURL == "" {
		return errors.New("portal base_url must not be empty")
	}
	if c.Portal.Timeout <= 0 {
		return errors.New("portal timeout must be positive")
	}
	return nil
}

// URL joins a configured endpoint path onto the portal base URL.
func (p Portal) URL(endpoint string) string {
	return p.BaseURL + endpoint
}
