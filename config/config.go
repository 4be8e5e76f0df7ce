// Package config loads the server settings file and applies the environment
// on top of it.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/storage"
	"gopkg.in/yaml.v2"
)

const (
	DefaultPort               = 5800
	DefaultHost               = "127.0.0.1"
	DefaultRequestTimeout     = 10 * time.Second
	DefaultHandlerWorkers     = 10
	DefaultDiagnosticsWorkers = 2

	// PortEnv overrides the port of the settings file.
	PortEnv = "IJAAS_PORT"
)

type Settings struct {
	Host               string        `yaml:"host,omitempty" json:"host,omitempty"`
	Port               int           `yaml:"port,omitempty" json:"port,omitempty"`
	LSPPort            int           `yaml:"lspPort,omitempty" json:"lspPort,omitempty"`
	RequestTimeout     time.Duration `yaml:"requestTimeout,omitempty" json:"requestTimeout,omitempty"`
	HandlerWorkers     int           `yaml:"handlerWorkers,omitempty" json:"handlerWorkers,omitempty"`
	DiagnosticsWorkers int           `yaml:"diagnosticsWorkers,omitempty" json:"diagnosticsWorkers,omitempty"`

	// WorkspaceFolders are indexed for cross-file navigation and imports.
	WorkspaceFolders []string `yaml:"workspaceFolders,omitempty" json:"workspaceFolders,omitempty"`
	// SourceArchives are source jars whose members are indexed like
	// workspace files.
	SourceArchives []string `yaml:"sourceArchives,omitempty" json:"sourceArchives,omitempty"`

	// SourceEncoding is the charset files on disk are stored in, UTF-8
	// when empty. A byte order mark overrides it.
	SourceEncoding string `yaml:"sourceEncoding,omitempty" json:"sourceEncoding,omitempty"`

	EnabledInspections  []string `yaml:"enabledInspections,omitempty" json:"enabledInspections,omitempty"`
	DisabledInspections []string `yaml:"disabledInspections,omitempty" json:"disabledInspections,omitempty"`

	MetricsAddress string  `yaml:"metricsAddress,omitempty" json:"metricsAddress,omitempty"`
	Tracing        Tracing `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

type Tracing struct {
	EnableJaeger   bool   `yaml:"enableJaeger,omitempty" json:"enableJaeger,omitempty"`
	JaegerEndpoint string `yaml:"jaegerEndpoint,omitempty" json:"jaegerEndpoint,omitempty"`
	ServiceName    string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	// HTTPProxy and NoProxy override the proxy environment for the
	// collector.
	HTTPProxy string `yaml:"httpProxy,omitempty" json:"httpProxy,omitempty"`
	NoProxy   string `yaml:"noProxy,omitempty" json:"noProxy,omitempty"`
}

func Default() Settings {
	return Settings{
		Host:               DefaultHost,
		Port:               DefaultPort,
		LSPPort:            DefaultPort,
		RequestTimeout:     DefaultRequestTimeout,
		HandlerWorkers:     DefaultHandlerWorkers,
		DiagnosticsWorkers: DefaultDiagnosticsWorkers,
	}
}

// Load reads the settings file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return s, errdefs.Wrap(errdefs.IOFailure, err, "read settings %s", path)
	}
	if err := yaml.Unmarshal(content, &s); err != nil {
		return s, errdefs.Wrap(errdefs.ValidationError, err, "parse settings %s", path)
	}
	for i, f := range s.WorkspaceFolders {
		s.WorkspaceFolders[i] = strings.TrimSpace(f)
	}
	return s, nil
}

// ApplyEnv applies the environment overrides read through lookup.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(PortEnv); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errdefs.Wrap(errdefs.ValidationError, err, "%s=%q", PortEnv, v)
		}
		s.Port = port
	}
	return nil
}

func (s Settings) Validate() error {
	if err := validatePort("port", s.Port); err != nil {
		return err
	}
	if err := validatePort("lspPort", s.LSPPort); err != nil {
		return err
	}
	if s.RequestTimeout <= 0 {
		return errdefs.Validationf("requestTimeout must be positive, got %s", s.RequestTimeout)
	}
	if s.HandlerWorkers <= 0 {
		return errdefs.Validationf("handlerWorkers must be positive, got %d", s.HandlerWorkers)
	}
	if s.DiagnosticsWorkers <= 0 {
		return errdefs.Validationf("diagnosticsWorkers must be positive, got %d", s.DiagnosticsWorkers)
	}
	if s.Host == "" {
		return errdefs.Validationf("host should not be empty")
	}
	if _, err := storage.EncodingFromName(s.SourceEncoding); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, in := range s.EnabledInspections {
		seen[in] = true
	}
	for _, in := range s.DisabledInspections {
		if seen[in] {
			return errdefs.Validationf("inspection %s is both enabled and disabled", in)
		}
	}
	return nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return errdefs.Validationf("%s must be in 1-65535, got %d", name, port)
	}
	return nil
}

func (s Settings) FramedAddress() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LSPAddress is the LSP listen address. When both protocols are served over
// TCP and the ports collide, the LSP server moves to the next port.
func (s Settings) LSPAddress(withFramed bool) string {
	port := s.LSPPort
	if withFramed && port == s.Port {
		port = s.Port + 1
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

func (s Settings) String() string {
	return fmt.Sprintf("host=%s port=%d lspPort=%d timeout=%s workspace=%v",
		s.Host, s.Port, s.LSPPort, s.RequestTimeout, s.WorkspaceFolders)
}
