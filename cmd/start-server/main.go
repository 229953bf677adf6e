// Command start-server runs the reliable-file-transfer server, serving
// uploads and downloads over UDP using either the SAW or GBN recovery
// engine for the whole process lifetime.
package main

import (
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"udpftp/internal/ftpconfig"
	"udpftp/internal/ftplog"
	"udpftp/internal/ftpmetrics"
	"udpftp/internal/quitwatch"
	"udpftp/internal/serverengine"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(ftpconfig.ErrorExitCode)
	}
}

func newRootCommand() *cobra.Command {
	var (
		host        string
		port        uint16
		storage     string
		protocol    string
		verbose     bool
		quiet       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "start-server",
		Short: "Serve file uploads and downloads over UDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := ftpconfig.ParseProtocol(protocol)
			if err != nil {
				return err
			}
			cfg := ftpconfig.ServerConfig{
				Host:        host,
				Port:        port,
				Storage:     storage,
				Protocol:    proto,
				Verbose:     verbose,
				Quiet:       quiet,
				MetricsAddr: metricsAddr,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&host, "host", "H", "127.0.0.1", "bind address")
	flags.Uint16VarP(&port, "port", "p", ftpconfig.DefaultPort, "UDP port to bind")
	flags.StringVarP(&storage, "storage", "s", "", "storage directory for uploaded and served files")
	flags.StringVarP(&protocol, "protocol", "r", "gbn", `recovery protocol, one of "saw" or "gbn"`)
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "optional host:port to expose Prometheus metrics on")
	cmd.MarkFlagRequired("storage")

	return cmd
}

func runServer(cfg ftpconfig.ServerConfig) error {
	level := logrus.InfoLevel
	switch {
	case cfg.Verbose:
		level = logrus.DebugLevel
	case cfg.Quiet:
		level = logrus.WarnLevel
	}
	log := ftplog.New(level, os.Stdout).WithField("run", uuid.New().String())

	metrics := ftpmetrics.NewRegistry()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warnf("metrics listener stopped: %v", err)
			}
		}()
		log.Infof("metrics exposed on http://%s/metrics", cfg.MetricsAddr)
	}

	srv, err := serverengine.New(cfg, log, metrics)
	if err != nil {
		return err
	}

	watcher := quitwatch.New(os.Stdin)
	defer watcher.Stop()
	log.Infof("press 'q' then enter to shut down")

	return srv.Run(watcher.Context())
}
