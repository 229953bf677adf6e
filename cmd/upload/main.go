// Command upload sends a local file to a running server over UDP using
// either the SAW or GBN recovery engine.
package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"udpftp/internal/clientengine"
	"udpftp/internal/ftpconfig"
	"udpftp/internal/ftplog"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(ftpconfig.ErrorExitCode)
	}
}

func newRootCommand() *cobra.Command {
	var (
		host     string
		port     uint16
		source   string
		name     string
		protocol string
		verbose  bool
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a local file to a udpftp server",
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := ftpconfig.ParseProtocol(protocol)
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(source)
			}
			cfg := ftpconfig.ClientConfig{
				Host:     host,
				Port:     port,
				Protocol: proto,
				Verbose:  verbose,
				Quiet:    quiet,
				Source:   source,
				Name:     name,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runUpload(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&host, "host", "H", "127.0.0.1", "server address")
	flags.Uint16VarP(&port, "port", "p", ftpconfig.DefaultPort, "server port")
	flags.StringVarP(&source, "storage", "s", "", "local file to upload")
	flags.StringVarP(&name, "name", "n", "", "filename to use on the server (default: source's base name)")
	flags.StringVarP(&protocol, "protocol", "r", "gbn", `recovery protocol, one of "saw" or "gbn"`)
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	cmd.MarkFlagRequired("storage")

	return cmd
}

func runUpload(cfg ftpconfig.ClientConfig) error {
	level := logrus.InfoLevel
	switch {
	case cfg.Verbose:
		level = logrus.DebugLevel
	case cfg.Quiet:
		level = logrus.WarnLevel
	}
	log := ftplog.New(level, os.Stdout).WithField("run", uuid.New().String())

	eng, err := clientengine.New(cfg, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	start := time.Now()
	if err := eng.Upload(cfg.Source); err != nil {
		return err
	}
	log.Infof("elapsed: %s", time.Since(start).Round(time.Millisecond))
	return nil
}
