// Command download fetches a named file from a running server over UDP
// using either the SAW or GBN recovery engine.
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
		dest     string
		name     string
		protocol string
		verbose  bool
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download a file from a udpftp server",
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := ftpconfig.ParseProtocol(protocol)
			if err != nil {
				return err
			}
			if dest == "" {
				dest = filepath.Base(name)
			}
			cfg := ftpconfig.ClientConfig{
				Host:     host,
				Port:     port,
				Protocol: proto,
				Verbose:  verbose,
				Quiet:    quiet,
				Dest:     dest,
				Name:     name,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runDownload(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&host, "host", "H", "127.0.0.1", "server address")
	flags.Uint16VarP(&port, "port", "p", ftpconfig.DefaultPort, "server port")
	flags.StringVarP(&dest, "dest", "d", "", "local destination path (default: name's base name)")
	flags.StringVarP(&name, "name", "n", "", "filename to request from the server")
	flags.StringVarP(&protocol, "protocol", "r", "gbn", `recovery protocol, one of "saw" or "gbn"`)
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runDownload(cfg ftpconfig.ClientConfig) error {
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
	if err := eng.Download(cfg.Dest); err != nil {
		return err
	}
	log.Infof("elapsed: %s", time.Since(start).Round(time.Millisecond))
	return nil
}
