// Package ftpconfig holds every tunable constant and the CLI-facing
// configuration structs for the client and server engines.
package ftpconfig

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"udpftp/internal/wire"
)

// Protocol-wide constants.
const (
	// ChunkSizeSAW is the application payload size used by the SAW engine.
	ChunkSizeSAW = 512
	// ChunkSizeGBN is the application payload size used by the GBN engine,
	// tuned larger since the window amortizes per-packet overhead.
	ChunkSizeGBN = 1024

	// WindowSize is the GBN sliding window size, in chunks.
	WindowSize = 8

	// TRetx is the SAW per-packet retransmission timeout.
	TRetx = 1 * time.Second
	// TConnLost is the total per-session liveness budget before a stalled
	// session is declared lost.
	TConnLost = 30 * time.Second
	// TWindowRetx is the GBN window-level retransmission timeout.
	TWindowRetx = 1 * time.Second
	// NMax is the maximum number of retransmission attempts for a single
	// in-flight packet before giving up.
	NMax = 30

	// MinFreeBytes is the safety margin CanFit enforces beyond the raw
	// file size, matching the original's 100 MB margin.
	MinFreeBytes = 100 * 1000 * 1000

	// SocketBufferBytes sizes the OS-level read/write buffers requested
	// on every UDP socket this module opens.
	SocketBufferBytes = 4 << 20

	// DefaultPort is the server's welcoming port.
	DefaultPort = 7001

	// ErrorExitCode is returned by every CLI entry point on startup failure.
	ErrorExitCode = 1
)

// Operation codes exchanged during the operation-intent step.
const (
	OpUpload   uint16 = 1
	OpDownload uint16 = 2
)

// ServerConfig holds validated settings for the start-server command.
type ServerConfig struct {
	Host        string
	Port        uint16
	Storage     string
	Protocol    wire.ProtocolKind
	Verbose     bool
	Quiet       bool
	MetricsAddr string
}

// ClientConfig holds validated settings for the upload/download commands.
type ClientConfig struct {
	Host     string
	Port     uint16
	Protocol wire.ProtocolKind
	Verbose  bool
	Quiet    bool

	// Source is the local file path for upload, unused for download.
	Source string
	// Dest is the local destination path for download, unused for upload.
	Dest string
	// Name is the filename to use on the server for both directions.
	Name string
}

// ParseProtocol maps a CLI flag value ("saw"/"gbn") to a wire.ProtocolKind.
func ParseProtocol(s string) (wire.ProtocolKind, error) {
	switch s {
	case "saw":
		return wire.SAW, nil
	case "gbn", "":
		return wire.GBN, nil
	default:
		return 0, fmt.Errorf("protocol must be \"saw\" or \"gbn\", got %q", s)
	}
}

// Validate aggregates every invalid field into a single multierror.Error,
// instead of failing on the first problem, so the CLI can report the full
// set of mistakes at once.
func (c ServerConfig) Validate() error {
	var result *multierror.Error
	if c.Host == "" {
		result = multierror.Append(result, fmt.Errorf("host must not be empty"))
	}
	if c.Port == 0 {
		result = multierror.Append(result, fmt.Errorf("port must be nonzero"))
	}
	if c.Storage == "" {
		result = multierror.Append(result, fmt.Errorf("storage directory must not be empty"))
	}
	if c.Verbose && c.Quiet {
		result = multierror.Append(result, fmt.Errorf("--verbose and --quiet are mutually exclusive"))
	}
	return result.ErrorOrNil()
}

// Validate aggregates every invalid field into a single multierror.Error.
func (c ClientConfig) Validate() error {
	var result *multierror.Error
	if c.Host == "" {
		result = multierror.Append(result, fmt.Errorf("host must not be empty"))
	}
	if c.Port == 0 {
		result = multierror.Append(result, fmt.Errorf("port must be nonzero"))
	}
	if c.Name == "" {
		result = multierror.Append(result, fmt.Errorf("name must not be empty"))
	}
	if c.Verbose && c.Quiet {
		result = multierror.Append(result, fmt.Errorf("--verbose and --quiet are mutually exclusive"))
	}
	return result.ErrorOrNil()
}
