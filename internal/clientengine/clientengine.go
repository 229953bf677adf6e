// Package clientengine drives the client-side state machine described
// in component design §4.5: handshake, operation intent, metadata
// exchange, bulk transfer, and graceful close.
package clientengine

import (
	"crypto/sha256"
	"encoding/binary"
	"net"

	"github.com/pkg/errors"

	"udpftp/internal/filestore"
	"udpftp/internal/ftpconfig"
	"udpftp/internal/ftplog"
	"udpftp/internal/gbnengine"
	"udpftp/internal/netaddr"
	"udpftp/internal/sawengine"
	"udpftp/internal/seqnum"
	"udpftp/internal/transport"
	"udpftp/internal/wire"
	"udpftp/internal/xferr"
)

const recvBufSize = ftpconfig.ChunkSizeGBN + 128

// Engine runs one upload or one download against a single server.
type Engine struct {
	cfg  ftpconfig.ClientConfig
	log  *ftplog.Logger
	conn *net.UDPConn

	welcoming netaddr.Address
	session   netaddr.Address

	sawSeq *seqnum.SAW
	gbnSeq *seqnum.GBN
}

// New resolves and binds an ephemeral local UDP socket talking to the
// server named by cfg.Host/cfg.Port.
func New(cfg ftpconfig.ClientConfig, log *ftplog.Logger) (*Engine, error) {
	local, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, errors.Wrap(err, "bind local socket")
	}
	_ = local.SetReadBuffer(ftpconfig.SocketBufferBytes)
	_ = local.SetWriteBuffer(ftpconfig.SocketBufferBytes)

	welcoming := netaddr.Address{Host: cfg.Host, Port: cfg.Port}
	return &Engine{
		cfg:       cfg,
		log:       log,
		conn:      local,
		welcoming: welcoming,
		session:   welcoming,
		sawSeq:    seqnum.NewSAW(),
		gbnSeq:    seqnum.NewGBN(),
	}, nil
}

// Close releases the local socket.
func (e *Engine) Close() error {
	return e.conn.Close()
}

// Upload runs the full upload state machine for sourcePath, announced
// to the server as cfg.Name.
func (e *Engine) Upload(sourcePath string) error {
	f, err := filestore.OpenRead(sourcePath)
	if err != nil {
		return err
	}
	defer f.Close()
	size, err := f.Size()
	if err != nil {
		return err
	}

	if err := e.handshake(); err != nil {
		return err
	}
	if err := e.sendOperationIntent(ftpconfig.OpUpload); err != nil {
		return err
	}
	if err := e.informFilename(); err != nil {
		return err
	}
	if err := e.informFilesize(size); err != nil {
		return err
	}

	chunks, err := readAllChunks(f, e.chunkSize())
	if err != nil {
		return err
	}

	e.log.Infof("starting upload of %s (%d bytes, %d chunks)", e.cfg.Name, size, len(chunks))
	if err := e.runTransferSend(chunks); err != nil {
		return err
	}
	// Only SAW needs an extra close round trip: its last chunk is sent
	// without waiting for an ack, so closeAfterSend collects the
	// receiver's final fin-ack. GBN's cumulative-ack loop already
	// confirms the last chunk inside Run, so there is nothing further
	// to wait for.
	if e.cfg.Protocol == wire.SAW {
		if err := e.closeAfterSend(); err != nil {
			return err
		}
	}
	e.log.Milestone("Upload completed")
	return nil
}

// Download runs the full download state machine, writing the server's
// file named cfg.Name to destPath.
func (e *Engine) Download(destPath string) error {
	if err := e.handshake(); err != nil {
		return err
	}
	if err := e.sendOperationIntent(ftpconfig.OpDownload); err != nil {
		return err
	}

	first, err := e.informFilenameForDownload()
	if err != nil {
		return err
	}

	dest, err := filestore.OpenWriteNew(destPath)
	if err != nil {
		return err
	}
	cleanupOnError := true
	defer func() {
		dest.Close()
		if cleanupOnError {
			filestore.Remove(destPath)
		}
	}()

	hasher := sha256.New()
	appendChunk := func(chunk []byte) error {
		if err := dest.Append(chunk); err != nil {
			return err
		}
		hasher.Write(chunk)
		return nil
	}

	if len(first) > 0 {
		if err := appendChunk(first); err != nil {
			return err
		}
	}

	e.log.Infof("starting download of %s into %s", e.cfg.Name, destPath)
	if err := e.runTransferReceive(appendChunk); err != nil {
		return err
	}

	cleanupOnError = false
	e.log.Milestone("Download completed")
	return nil
}

func (e *Engine) chunkSize() int {
	if e.cfg.Protocol == wire.SAW {
		return ftpconfig.ChunkSizeSAW
	}
	return ftpconfig.ChunkSizeGBN
}

// handshake sends SYN on the welcoming port, waits for SYN+ACK, and
// updates e.session to the server's newly allocated ephemeral port —
// the port-migration step at the heart of per-session isolation.
func (e *Engine) handshake() error {
	conn := transport.NewSAWConn(e.conn)
	syn := wire.Packet{Protocol: e.cfg.Protocol, IsSyn: true, Port: localPort(e.conn)}
	if err := conn.SendTo(wire.Encode(syn), e.welcoming); err != nil {
		return errors.Wrap(err, "send syn")
	}

	raw, _, err := conn.RecvFrom(recvBufSize, true)
	if err != nil {
		if errors.Is(err, xferr.ErrConnectionLost) {
			return errors.Wrap(xferr.ErrConnectionRefused, "no syn+ack received")
		}
		return err
	}
	pkt, err := wire.Decode(raw)
	if err != nil {
		return errors.Wrap(xferr.ErrConnectionRefused, "malformed handshake reply")
	}
	if pkt.IsFin {
		e.log.Warnf("%v", xferr.ErrProtocolMismatch)
		return errors.Wrap(xferr.ErrProtocolMismatch, "server rejected syn")
	}
	if !pkt.IsSyn || !pkt.IsAck {
		return errors.Wrap(xferr.ErrConnectionRefused, "expected syn+ack")
	}

	e.session = netaddr.Address{Host: e.welcoming.Host, Port: pkt.Port}
	// The SAW bulk-transfer bit starts untouched at 0 on both endpoints;
	// only the GBN sequence number advances past the handshake, since
	// its numbering (unlike SAW's toggle) must stay monotonic across the
	// whole session.
	e.gbnSeq.Step()
	return nil
}

func (e *Engine) sendOperationIntent(op uint16) error {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, op)
	return e.sendAndAwaitAck(data)
}

func (e *Engine) informFilename() error {
	if err := e.sendAndAwaitAck([]byte(e.cfg.Name)); err != nil {
		if errors.Is(err, xferr.ErrNotAck) || errors.Is(err, xferr.ErrUnexpectedFin) {
			return errors.Wrap(xferr.ErrFileAlreadyExists, "server rejected filename")
		}
		return err
	}
	return nil
}

func (e *Engine) informFilesize(size int64) error {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, uint32(size))
	if err := e.sendAndAwaitAck(data); err != nil {
		if errors.Is(err, xferr.ErrNotAck) || errors.Is(err, xferr.ErrUnexpectedFin) {
			return errors.Wrap(xferr.ErrFileTooBig, "server rejected filesize")
		}
		return err
	}
	return nil
}

// informFilenameForDownload sends the filename over the SAW metadata
// wrapper (the one-step exchange used regardless of bulk-transfer
// protocol, matching the server's recvMetadata/ackMetadata pair) and
// returns any payload carried on the reply, treating it as the first
// file chunk (the "carried-through first chunk" case). This module's
// server always answers with a bare ack, so the payload is empty.
func (e *Engine) informFilenameForDownload() ([]byte, error) {
	conn := transport.NewSAWConn(e.conn)
	pkt := wire.Packet{Protocol: wire.SAW, Data: []byte(e.cfg.Name)}
	if err := conn.SendTo(wire.EncodeSAW(pkt), e.session); err != nil {
		return nil, errors.Wrap(err, "send filename")
	}
	raw, _, err := conn.RecvFrom(recvBufSize, true)
	if err != nil {
		return nil, err
	}
	reply, err := wire.DecodeSAW(raw)
	if err != nil {
		return nil, errors.Wrap(xferr.ErrMalformedFrame, "filename reply")
	}
	if reply.IsFin {
		return nil, errors.Wrap(xferr.ErrFileDoesNotExist, "server has no such file")
	}
	if !reply.IsAck {
		return nil, errors.Wrap(xferr.ErrFileDoesNotExist, "server did not ack filename")
	}
	return reply.Data, nil
}

// sendAndAwaitAck is used for the small fixed-size exchanges before
// bulk transfer starts (operation intent, filename, filesize). It
// always uses the SAW wrapper regardless of the session's bulk-transfer
// protocol, since these exchanges are single packets with no window.
func (e *Engine) sendAndAwaitAck(data []byte) error {
	conn := transport.NewSAWConn(e.conn)
	pkt := wire.Packet{Protocol: wire.SAW, IsAck: true, Data: data}
	if err := conn.SendTo(wire.EncodeSAW(pkt), e.session); err != nil {
		return errors.Wrap(err, "send")
	}

	raw, _, err := conn.RecvFrom(recvBufSize, true)
	if err != nil {
		return err
	}
	reply, err := wire.DecodeSAW(raw)
	if err != nil {
		return errors.Wrap(xferr.ErrMalformedFrame, "reply")
	}
	if reply.IsFin {
		return errors.Wrap(xferr.ErrUnexpectedFin, "server closed early")
	}
	if !reply.IsAck {
		return errors.Wrap(xferr.ErrNotAck, "expected ack")
	}
	return nil
}

func (e *Engine) runTransferSend(chunks [][]byte) error {
	if e.cfg.Protocol == wire.SAW {
		conn := transport.NewSAWConn(e.conn)
		return sawengine.Send(conn, e.session, e.sawSeq, chunks)
	}
	conn := transport.NewGBNConn(e.conn)
	sender := gbnengine.NewSender(conn, e.session, chunks, e.gbnSeq.Value())
	return sender.Run()
}

func (e *Engine) runTransferReceive(appendChunk func([]byte) error) error {
	if e.cfg.Protocol == wire.SAW {
		conn := transport.NewSAWConn(e.conn)
		return sawengine.Receive(conn, e.session, e.sawSeq, appendChunk)
	}
	conn := transport.NewGBNConn(e.conn)
	receiver := gbnengine.NewReceiver(conn, e.session, e.gbnSeq.Value())
	_, err := receiver.Run(appendChunk)
	return err
}

// closeAfterSend implements the SAW upload close step: the last chunk
// was sent by runTransferSend without waiting for its ack, so this
// collects the receiver's final fin-ack and echoes a closing ack back.
// A lost final ack is tolerated, since the transfer itself already
// completed successfully by the time this runs.
func (e *Engine) closeAfterSend() error {
	conn := transport.NewSAWConn(e.conn)
	raw, _, err := conn.RecvFrom(recvBufSize, true)
	if err != nil {
		if errors.Is(err, xferr.ErrConnectionLost) {
			// Final ack never arrived; tolerate it, the transfer itself
			// already completed successfully.
			return nil
		}
		return err
	}
	reply, err := wire.Decode(raw)
	if err != nil {
		return nil
	}
	if !reply.IsFin && !reply.IsAck {
		return nil
	}

	ack := wire.Packet{Protocol: wire.SAW, SeqBit: reply.SeqBit, IsAck: true}
	conn.SendTo(wire.EncodeSAW(ack), e.session)
	return nil
}

func localPort(conn *net.UDPConn) uint16 {
	addr := conn.LocalAddr().(*net.UDPAddr)
	return uint16(addr.Port)
}

func readAllChunks(f *filestore.File, chunkSize int) ([][]byte, error) {
	var chunks [][]byte
	for {
		buf := make([]byte, chunkSize)
		n, err := f.Read(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		chunks = append(chunks, buf[:n])
		if n < chunkSize {
			break
		}
	}
	return chunks, nil
}
