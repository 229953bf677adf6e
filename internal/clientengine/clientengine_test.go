package clientengine

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"udpftp/internal/ftpconfig"
	"udpftp/internal/ftplog"
	"udpftp/internal/netaddr"
	"udpftp/internal/seqnum"
	"udpftp/internal/wire"
	"udpftp/internal/xferr"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func newTestEngine(t *testing.T, peer *net.UDPConn, protocol wire.ProtocolKind) *Engine {
	t.Helper()
	peerAddr := peer.LocalAddr().(*net.UDPAddr)
	local, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen local: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	return &Engine{
		cfg:       ftpconfig.ClientConfig{Host: peerAddr.IP.String(), Port: uint16(peerAddr.Port), Protocol: protocol, Name: "file.bin"},
		log:       ftplog.New(logrus.ErrorLevel, io.Discard),
		conn:      local,
		welcoming: netaddr.Address{Host: peerAddr.IP.String(), Port: uint16(peerAddr.Port)},
		session:   netaddr.Address{Host: peerAddr.IP.String(), Port: uint16(peerAddr.Port)},
		sawSeq:    seqnum.NewSAW(),
		gbnSeq:    seqnum.NewGBN(),
	}
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandshakeMigratesToSessionPort(t *testing.T) {
	welcomingPeer := listenLoopback(t)
	sessionPeer := listenLoopback(t)
	sessionAddr := sessionPeer.LocalAddr().(*net.UDPAddr)

	eng := newTestEngine(t, welcomingPeer, wire.SAW)

	done := make(chan error, 1)
	go func() { done <- eng.handshake() }()

	buf := make([]byte, 64)
	n, from, err := welcomingPeer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read syn: %v", err)
	}
	syn, err := wire.Decode(buf[:n])
	if err != nil || !syn.IsSyn {
		t.Fatalf("expected syn, got %+v err=%v", syn, err)
	}

	synAck := wire.Packet{Protocol: wire.SAW, IsSyn: true, IsAck: true, Port: uint16(sessionAddr.Port)}
	if _, err := welcomingPeer.WriteToUDP(wire.Encode(synAck), from); err != nil {
		t.Fatalf("write syn+ack: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if eng.session.Port != uint16(sessionAddr.Port) {
		t.Fatalf("session port = %d, want %d (migration did not happen)", eng.session.Port, sessionAddr.Port)
	}
	if eng.sawSeq.Value() != 0 {
		t.Fatalf("sawSeq = %d after handshake, want 0 (must stay untouched until bulk transfer)", eng.sawSeq.Value())
	}
	if eng.gbnSeq.Value() != 1 {
		t.Fatalf("gbnSeq = %d after handshake, want 1", eng.gbnSeq.Value())
	}
}

func TestHandshakeProtocolMismatchReturnsProtocolMismatch(t *testing.T) {
	peer := listenLoopback(t)
	eng := newTestEngine(t, peer, wire.SAW)

	done := make(chan error, 1)
	go func() { done <- eng.handshake() }()

	buf := make([]byte, 64)
	n, from, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read syn: %v", err)
	}
	if _, err := wire.Decode(buf[:n]); err != nil {
		t.Fatalf("decode syn: %v", err)
	}

	fin := wire.Packet{Protocol: wire.GBN, IsFin: true}
	if _, err := peer.WriteToUDP(wire.Encode(fin), from); err != nil {
		t.Fatalf("write fin: %v", err)
	}

	err = <-done
	if !errors.Is(err, xferr.ErrProtocolMismatch) {
		t.Fatalf("handshake error = %v, want ErrProtocolMismatch", err)
	}
}

func TestInformFilenameCollisionMapsToFileAlreadyExists(t *testing.T) {
	peer := listenLoopback(t)
	eng := newTestEngine(t, peer, wire.SAW)

	done := make(chan error, 1)
	go func() { done <- eng.informFilename() }()

	buf := make([]byte, 64)
	n, from, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read filename packet: %v", err)
	}
	pkt, err := wire.DecodeSAW(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(pkt.Data) != "file.bin" {
		t.Fatalf("filename payload = %q, want %q", pkt.Data, "file.bin")
	}

	fin := wire.Packet{Protocol: wire.SAW, IsFin: true}
	if _, err := peer.WriteToUDP(wire.EncodeSAW(fin), from); err != nil {
		t.Fatalf("write fin: %v", err)
	}

	err = <-done
	if !errors.Is(err, xferr.ErrFileAlreadyExists) {
		t.Fatalf("informFilename error = %v, want ErrFileAlreadyExists", err)
	}
}

func TestInformFilesizeTooBigMapsToFileTooBig(t *testing.T) {
	peer := listenLoopback(t)
	eng := newTestEngine(t, peer, wire.GBN)

	done := make(chan error, 1)
	go func() { done <- eng.informFilesize(1 << 30) }()

	buf := make([]byte, 64)
	n, from, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read filesize packet: %v", err)
	}
	pkt, err := wire.DecodeSAW(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := binary.BigEndian.Uint32(pkt.Data); got != 1<<30 {
		t.Fatalf("filesize payload = %d, want %d", got, 1<<30)
	}

	fin := wire.Packet{Protocol: wire.SAW, IsFin: true}
	if _, err := peer.WriteToUDP(wire.EncodeSAW(fin), from); err != nil {
		t.Fatalf("write fin: %v", err)
	}

	err = <-done
	if !errors.Is(err, xferr.ErrFileTooBig) {
		t.Fatalf("informFilesize error = %v, want ErrFileTooBig", err)
	}
}

func TestSendOperationIntentEncodesOpCode(t *testing.T) {
	peer := listenLoopback(t)
	eng := newTestEngine(t, peer, wire.SAW)

	done := make(chan error, 1)
	go func() { done <- eng.sendOperationIntent(ftpconfig.OpDownload) }()

	buf := make([]byte, 64)
	n, from, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read op packet: %v", err)
	}
	pkt, err := wire.DecodeSAW(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := binary.BigEndian.Uint16(pkt.Data); got != ftpconfig.OpDownload {
		t.Fatalf("op code = %d, want %d", got, ftpconfig.OpDownload)
	}

	ack := wire.Packet{Protocol: wire.SAW, IsAck: true}
	if _, err := peer.WriteToUDP(wire.EncodeSAW(ack), from); err != nil {
		t.Fatalf("write ack: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("sendOperationIntent: %v", err)
	}
}
