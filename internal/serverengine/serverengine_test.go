package serverengine_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"udpftp/internal/clientengine"
	"udpftp/internal/ftpconfig"
	"udpftp/internal/ftplog"
	"udpftp/internal/ftpmetrics"
	"udpftp/internal/serverengine"
	"udpftp/internal/wire"

	"github.com/sirupsen/logrus"
)

func startServer(t *testing.T, protocol wire.ProtocolKind) (ftpconfig.ServerConfig, func()) {
	t.Helper()
	storage := t.TempDir()
	cfg := ftpconfig.ServerConfig{
		Host:     "127.0.0.1",
		Port:     0,
		Storage:  storage,
		Protocol: protocol,
	}
	log := ftplog.New(logrus.ErrorLevel, io.Discard)
	metrics := ftpmetrics.NewRegistry()

	srv, err := serverengine.New(cfg, log, metrics)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg.Port = srv.Addr().Port

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()

	return cfg, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
		}
	}
}

func clientConfig(srvCfg ftpconfig.ServerConfig, name string) ftpconfig.ClientConfig {
	return ftpconfig.ClientConfig{
		Host:     srvCfg.Host,
		Port:     srvCfg.Port,
		Protocol: srvCfg.Protocol,
		Name:     name,
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return buf
}

func runUploadDownload(t *testing.T, protocol wire.ProtocolKind, size int) {
	t.Helper()
	srvCfg, stop := startServer(t, protocol)
	defer stop()

	sourceDir := t.TempDir()
	source := filepath.Join(sourceDir, "payload.bin")
	content := randomBytes(t, size)
	if err := os.WriteFile(source, content, 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	log := ftplog.New(logrus.ErrorLevel, io.Discard)

	uploader, err := clientengine.New(clientConfig(srvCfg, "remote.bin"), log)
	if err != nil {
		t.Fatalf("New uploader: %v", err)
	}
	defer uploader.Close()
	if err := uploader.Upload(source); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	uploaded := filepath.Join(srvCfg.Storage, "remote.bin")
	got, err := os.ReadFile(uploaded)
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("uploaded content mismatch: got %d bytes, want %d", len(got), len(content))
	}

	destDir := t.TempDir()
	dest := filepath.Join(destDir, "downloaded.bin")
	downloader, err := clientengine.New(clientConfig(srvCfg, "remote.bin"), log)
	if err != nil {
		t.Fatalf("New downloader: %v", err)
	}
	defer downloader.Close()
	if err := downloader.Download(dest); err != nil {
		t.Fatalf("Download: %v", err)
	}

	roundTripped, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(roundTripped, content) {
		t.Fatalf("downloaded content mismatch: got %d bytes, want %d", len(roundTripped), len(content))
	}
}

func TestUploadDownloadRoundTripSAW(t *testing.T) {
	runUploadDownload(t, wire.SAW, 3*ftpconfig.ChunkSizeSAW+37)
}

func TestUploadDownloadRoundTripGBN(t *testing.T) {
	runUploadDownload(t, wire.GBN, 5*ftpconfig.ChunkSizeGBN*ftpconfig.WindowSize+91)
}

func TestUploadSmallerThanOneChunk(t *testing.T) {
	runUploadDownload(t, wire.SAW, 42)
}

func TestUploadRejectsExistingFile(t *testing.T) {
	srvCfg, stop := startServer(t, wire.SAW)
	defer stop()

	if err := os.WriteFile(filepath.Join(srvCfg.Storage, "taken.bin"), []byte("already here"), 0644); err != nil {
		t.Fatalf("seed existing file: %v", err)
	}

	sourceDir := t.TempDir()
	source := filepath.Join(sourceDir, "payload.bin")
	if err := os.WriteFile(source, []byte("new content"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	log := ftplog.New(logrus.ErrorLevel, io.Discard)
	eng, err := clientengine.New(clientConfig(srvCfg, "taken.bin"), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	if err := eng.Upload(source); err == nil {
		t.Fatal("expected Upload to fail against a pre-existing remote file")
	}
}

func TestDownloadRejectsMissingFile(t *testing.T) {
	srvCfg, stop := startServer(t, wire.GBN)
	defer stop()

	destDir := t.TempDir()
	dest := filepath.Join(destDir, "wont-exist.bin")

	log := ftplog.New(logrus.ErrorLevel, io.Discard)
	eng, err := clientengine.New(clientConfig(srvCfg, "nonexistent.bin"), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	if err := eng.Download(dest); err == nil {
		t.Fatal("expected Download to fail for a file absent on the server")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("expected partial destination file to be cleaned up, stat err = %v", err)
	}
}

func TestProtocolMismatchIsRejected(t *testing.T) {
	srvCfg, stop := startServer(t, wire.GBN)
	defer stop()

	sourceDir := t.TempDir()
	source := filepath.Join(sourceDir, "payload.bin")
	if err := os.WriteFile(source, []byte("mismatched protocol"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	mismatched := clientConfig(srvCfg, "whatever.bin")
	mismatched.Protocol = wire.SAW

	log := ftplog.New(logrus.ErrorLevel, io.Discard)
	eng, err := clientengine.New(mismatched, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	if err := eng.Upload(source); err == nil {
		t.Fatal("expected Upload to fail when client and server protocols differ")
	}
}
