package main

import (
	"fmt"
	"os"

	logrusr "github.com/bombsimon/logrusr/v3"
	"github.com/draftcode/ijaas/config"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	protocolFramed = "framed"
	protocolLSP    = "lsp"
	protocolAll    = "all"
)

var (
	settingsFile       string
	protocol           string
	stdio              bool
	host               string
	port               int
	lspPort            int
	requestTimeout     string
	workspaceFolders   []string
	sourceArchives     []string
	disableInspections []string
	logLevel           int
	metricsAddress     string
	enableJaeger       bool
	jaegerEndpoint     string
	sourceEncoding     string
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func RootCmd() *cobra.Command {
	var errLog logr.Logger

	rootCmd := &cobra.Command{
		Use:          "ijaas",
		Short:        "Java analysis server for editors",
		Version:      version,
		SilenceUsage: true,
		PreRunE: func(c *cobra.Command, args []string) error {
			logrusErrLog := logrus.New()
			logrusErrLog.SetOutput(os.Stderr)
			errLog = logrusr.New(logrusErrLog)
			if err := validateFlags(); err != nil {
				errLog.Error(err, "failed to validate flags")
				return err
			}
			return nil
		},
		RunE: func(c *cobra.Command, args []string) error {
			logrusLog := logrus.New()
			// stdout carries the LSP stream when serving over stdio.
			logrusLog.SetOutput(os.Stderr)
			logrusLog.SetFormatter(&logrus.TextFormatter{})
			// Adding 5 here to move logs to info level
			logrusLog.SetLevel(logrus.Level(logLevel + 5))
			log := logrusr.New(logrusLog)

			settings, err := loadSettings(c.Flags())
			if err != nil {
				errLog.Error(err, "invalid settings")
				return err
			}
			log.Info("starting", "protocol", protocol, "stdio", stdio, "settings", settings.String())
			return run(c.Context(), log, settings)
		},
	}

	rootCmd.Flags().StringVar(&settingsFile, "settings", "", "path to the settings file")
	rootCmd.Flags().StringVar(&protocol, "protocol", protocolAll, "protocol to serve: framed, lsp or all")
	rootCmd.Flags().BoolVar(&stdio, "stdio", false, "serve LSP over stdin/stdout instead of TCP")
	rootCmd.Flags().StringVar(&host, "host", config.DefaultHost, "address to listen on")
	rootCmd.Flags().IntVar(&port, "port", config.DefaultPort, fmt.Sprintf("port of the framed server, also read from %s", config.PortEnv))
	rootCmd.Flags().IntVar(&lspPort, "lsp-port", config.DefaultPort, "port of the LSP server, the next port when it collides with --port")
	rootCmd.Flags().StringVar(&requestTimeout, "request-timeout", config.DefaultRequestTimeout.String(), "how long a request may run before it fails")
	rootCmd.Flags().StringArrayVar(&workspaceFolders, "workspace", nil, "folder to index for navigation and imports, can be repeated")
	rootCmd.Flags().StringArrayVar(&sourceArchives, "source-archive", nil, "source jar to index, can be repeated")
	rootCmd.Flags().StringArrayVar(&disableInspections, "disable-inspection", nil, "inspection not to report, can be repeated")
	rootCmd.Flags().IntVar(&logLevel, "verbose", 0, "level for logging output")
	rootCmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "address to serve prometheus metrics on, disabled when empty")
	rootCmd.Flags().BoolVar(&enableJaeger, "enable-jaeger", false, "enable tracer exports to jaeger endpoint")
	rootCmd.Flags().StringVar(&jaegerEndpoint, "jaeger-endpoint", "http://localhost:14268/api/traces", "jaeger endpoint to collect tracing data")
	rootCmd.Flags().StringVar(&sourceEncoding, "source-encoding", "", "charset of the Java sources on disk, UTF-8 when empty")

	return rootCmd
}

func validateFlags() error {
	switch protocol {
	case protocolFramed, protocolLSP, protocolAll:
	default:
		return fmt.Errorf("unknown protocol %q, must be one of framed, lsp or all", protocol)
	}
	if stdio && protocol == protocolFramed {
		return fmt.Errorf("--stdio needs the lsp protocol")
	}
	return nil
}
