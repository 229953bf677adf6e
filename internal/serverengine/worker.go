package serverengine

import (
	"crypto/sha256"
	"encoding/binary"
	"path/filepath"

	"github.com/pkg/errors"

	"udpftp/internal/filestore"
	"udpftp/internal/ftpconfig"
	"udpftp/internal/ftplog"
	"udpftp/internal/ftpmetrics"
	"udpftp/internal/gbnengine"
	"udpftp/internal/sawengine"
	"udpftp/internal/seqnum"
	"udpftp/internal/session"
	"udpftp/internal/transport"
	"udpftp/internal/wire"
	"udpftp/internal/xferr"
)

// worker runs one server-side session to completion, mirroring the
// client state machine with reversed roles (component design §4.7).
type worker struct {
	cfg     ftpconfig.ServerConfig
	log     *ftplog.Logger
	metrics *ftpmetrics.Registry
	sess    *session.ClientSession

	sawSeq *seqnum.SAW
	gbnSeq *seqnum.GBN
}

func newWorker(cfg ftpconfig.ServerConfig, log *ftplog.Logger, metrics *ftpmetrics.Registry, sess *session.ClientSession) *worker {
	return &worker{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		sess:    sess,
		sawSeq:  seqnum.NewSAW(),
		gbnSeq:  seqnum.NewGBN(),
	}
}

func (w *worker) run() {
	op, err := w.completeHandshakeAndReceiveIntent()
	if err != nil {
		w.log.Warnf("handshake did not complete: %v", err)
		w.sess.State = session.Unrecoverable
		return
	}
	w.sess.State = session.HandshakeFinished

	switch op {
	case ftpconfig.OpUpload:
		w.sess.State = session.ReadyToReceive
		if err := w.handleUpload(); err != nil {
			w.finishWithError(err)
			return
		}
	case ftpconfig.OpDownload:
		w.sess.State = session.ReadyToTransmit
		if err := w.handleDownload(); err != nil {
			w.finishWithError(err)
			return
		}
	default:
		w.log.Warnf("invalid operation code %d", op)
		w.sess.State = session.Unrecoverable
		return
	}

	w.sess.State = session.Done
}

func (w *worker) finishWithError(err error) {
	if errors.Is(err, xferr.ErrConnectionLost) || errors.Is(err, xferr.ErrSocketShutdown) {
		w.log.Warnf("session ended: %v", err)
	} else {
		w.log.Errorf("session failed: %v", err)
	}
	w.sess.State = session.Unrecoverable
}

// completeHandshakeAndReceiveIntent sends the SYN+ACK from the
// session's own ephemeral socket (so the socket that retransmits on
// timeout is the one the client will actually be replying to) and
// waits for the client's reply. That reply is the operation-intent
// packet: it carries the 2-byte operation code and its ACK flag
// simultaneously completes the handshake, so there is no separate
// bare handshake-ack step.
func (w *worker) completeHandshakeAndReceiveIntent() (uint16, error) {
	conn := transport.NewSAWConn(w.sess.Conn)
	synAck := wire.Packet{Protocol: w.cfg.Protocol, IsSyn: true, IsAck: true, Port: w.sess.Local.Port}
	if err := conn.SendTo(wire.Encode(synAck), w.sess.Peer); err != nil {
		return 0, errors.Wrap(err, "send syn+ack")
	}

	raw, _, err := conn.RecvFrom(recvBufSize, true)
	if err != nil {
		return 0, err
	}
	pkt, err := wire.Decode(raw)
	if err != nil {
		return 0, errors.Wrap(xferr.ErrMalformedFrame, "handshake completion")
	}
	if pkt.IsFin {
		return 0, errors.Wrap(xferr.ErrUnexpectedFin, "client aborted handshake")
	}
	if !pkt.IsAck {
		return 0, errors.Wrap(xferr.ErrNotAck, "expected handshake ack")
	}
	if len(pkt.Data) != 2 {
		return 0, errors.Wrap(xferr.ErrInvalidOperation, "operation intent payload size")
	}
	op := binary.BigEndian.Uint16(pkt.Data)

	// The SAW bulk-transfer bit starts untouched at 0 on both endpoints;
	// only the GBN sequence number advances past the handshake.
	w.gbnSeq.Step()
	ack := wire.Packet{Protocol: wire.SAW, IsAck: true}
	if err := conn.SendTo(wire.EncodeSAW(ack), w.sess.Peer); err != nil {
		return 0, errors.Wrap(err, "ack operation intent")
	}
	return op, nil
}

// handleUpload receives filename and filesize, then runs the matching
// receiver engine, cleaning up a partial file on any failure.
func (w *worker) handleUpload() error {
	conn := transport.NewSAWConn(w.sess.Conn)

	name, err := w.recvMetadata(conn)
	if err != nil {
		return err
	}
	destPath, err := filestore.ResolveWithin(w.cfg.Storage, string(name))
	if err != nil {
		return w.refuseAndClose(conn, err)
	}
	if filestore.Exists(destPath) {
		w.log.Warnf("upload of %q rejected: already existing in the server", filepath.Base(destPath))
		return w.refuseAndClose(conn, errors.Wrap(xferr.ErrFileAlreadyExists, destPath))
	}
	if err := w.ackMetadata(conn); err != nil {
		return err
	}

	sizeBytes, err := w.recvMetadata(conn)
	if err != nil {
		return err
	}
	if len(sizeBytes) != 4 {
		return w.refuseAndClose(conn, errors.Wrap(xferr.ErrMalformedFrame, "filesize payload size"))
	}
	size := int64(binary.BigEndian.Uint32(sizeBytes))
	if fits, err := filestore.CanFit(w.cfg.Storage, size); err != nil || !fits {
		return w.refuseAndClose(conn, errors.Wrap(xferr.ErrFileTooBig, destPath))
	}

	dest, err := filestore.OpenWriteNew(destPath)
	if err != nil {
		return w.refuseAndClose(conn, err)
	}
	if err := w.ackMetadata(conn); err != nil {
		dest.Close()
		filestore.Remove(destPath)
		return err
	}
	cleanup := true
	defer func() {
		dest.Close()
		if cleanup {
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

	if w.cfg.Protocol == wire.SAW {
		if err := sawengine.Receive(conn, w.sess.Peer, w.sawSeq, appendChunk); err != nil {
			return err
		}
	} else {
		gconn := transport.NewGBNConn(w.sess.Conn)
		receiver := gbnengine.NewReceiver(gconn, w.sess.Peer, w.gbnSeq.Value())
		if _, err := receiver.Run(appendChunk); err != nil {
			return err
		}
	}

	cleanup = false
	w.log.Milestone("Upload completed from client")
	return nil
}

// handleDownload receives the requested filename and runs the matching
// sender engine.
func (w *worker) handleDownload() error {
	conn := transport.NewSAWConn(w.sess.Conn)

	name, err := w.recvMetadata(conn)
	if err != nil {
		return err
	}
	srcPath, err := filestore.ResolveWithin(w.cfg.Storage, string(name))
	if err != nil {
		return w.refuseAndClose(conn, err)
	}

	f, err := filestore.OpenRead(srcPath)
	if err != nil {
		w.log.Warnf("download of %q rejected: not existing in server for download", filepath.Base(srcPath))
		return w.refuseAndClose(conn, err)
	}
	defer f.Close()
	if err := w.ackMetadata(conn); err != nil {
		return err
	}

	chunkSize := ftpconfig.ChunkSizeGBN
	if w.cfg.Protocol == wire.SAW {
		chunkSize = ftpconfig.ChunkSizeSAW
	}
	chunks, err := readAllChunks(f, chunkSize)
	if err != nil {
		return err
	}

	if w.cfg.Protocol == wire.SAW {
		if err := sawengine.Send(conn, w.sess.Peer, w.sawSeq, chunks); err != nil {
			return err
		}
	} else {
		gconn := transport.NewGBNConn(w.sess.Conn)
		sender := gbnengine.NewSender(gconn, w.sess.Peer, chunks, w.gbnSeq.Value())
		if err := sender.Run(); err != nil {
			return err
		}
	}

	w.log.Milestone("Download completed to client")
	return nil
}

// recvMetadata reads one SAW data packet without acking it, used for the
// filename/filesize exchanges that always happen over the SAW wrapper
// regardless of the session's bulk-transfer protocol. The caller
// decides whether to ackMetadata or refuseAndClose once it has
// inspected the payload, since the client expects exactly one reply
// per metadata step.
func (w *worker) recvMetadata(conn *transport.SAWConn) ([]byte, error) {
	raw, _, err := conn.RecvFrom(recvBufSize, true)
	if err != nil {
		return nil, err
	}
	pkt, err := wire.DecodeSAW(raw)
	if err != nil {
		return nil, errors.Wrap(xferr.ErrMalformedFrame, "metadata exchange")
	}
	return pkt.Data, nil
}

// ackMetadata sends a bare ack closing out the metadata step started by
// the matching recvMetadata call.
func (w *worker) ackMetadata(conn *transport.SAWConn) error {
	ack := wire.Packet{Protocol: wire.SAW, IsAck: true}
	if err := conn.SendTo(wire.EncodeSAW(ack), w.sess.Peer); err != nil {
		return errors.Wrap(err, "ack metadata")
	}
	return nil
}

// refuseAndClose sends a FIN in response to a rejected metadata step
// (collision, too-big, missing file) and returns cause so the caller's
// top-level handler logs and transitions to Unrecoverable.
func (w *worker) refuseAndClose(conn *transport.SAWConn, cause error) error {
	fin := wire.Packet{Protocol: wire.SAW, IsFin: true}
	conn.SendTo(wire.EncodeSAW(fin), w.sess.Peer)
	return xferr.NeedsClosing(cause)
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
