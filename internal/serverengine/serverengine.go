// Package serverengine implements the server-side accepter and
// per-session worker described in component design §4.6-4.7: a
// welcoming loop that hands each client its own ephemeral UDP
// endpoint, and a worker goroutine that runs that session to
// completion.
package serverengine

import (
	"context"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"

	"udpftp/internal/ftpconfig"
	"udpftp/internal/ftplog"
	"udpftp/internal/ftpmetrics"
	"udpftp/internal/netaddr"
	"udpftp/internal/session"
	"udpftp/internal/transport"
	"udpftp/internal/wire"
	"udpftp/internal/xferr"
)

const recvBufSize = ftpconfig.ChunkSizeGBN + 128

// Server owns the welcoming socket and the table of in-flight sessions.
type Server struct {
	cfg     ftpconfig.ServerConfig
	log     *ftplog.Logger
	metrics *ftpmetrics.Registry

	conn *net.UDPConn
	pool *session.Pool
	wg   sync.WaitGroup
}

// New binds the welcoming socket at cfg.Host:cfg.Port.
func New(cfg ftpconfig.ServerConfig, log *ftplog.Logger, metrics *ftpmetrics.Registry) (*Server, error) {
	info, err := os.Stat(cfg.Storage)
	if err != nil || !info.IsDir() {
		return nil, errors.Wrapf(xferr.ErrInvalidDirectory, "storage path %q", cfg.Storage)
	}

	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: int(cfg.Port)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind %s:%d", cfg.Host, cfg.Port)
	}
	_ = conn.SetReadBuffer(ftpconfig.SocketBufferBytes)
	_ = conn.SetWriteBuffer(ftpconfig.SocketBufferBytes)

	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		conn:    conn,
		pool:    session.NewPool(),
	}, nil
}

// Addr returns the welcoming socket's bound local address, useful when
// cfg.Port is 0 and the OS assigned an ephemeral port.
func (s *Server) Addr() netaddr.Address {
	return netaddr.FromUDPAddr(s.conn.LocalAddr().(*net.UDPAddr))
}

// Run drives the welcoming loop until ctx is cancelled, at which point
// it shuts down the welcoming socket (unblocking the loop's pending
// receive) and waits for every spawned worker to finish.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	local := netaddr.FromUDPAddr(s.conn.LocalAddr().(*net.UDPAddr))
	s.log.Infof("server listening on %s (protocol=%s)", local, s.cfg.Protocol)

	welcoming := transport.NewSAWConn(s.conn)
	for {
		raw, peer, err := welcoming.RecvFrom(recvBufSize, false)
		if err != nil {
			if errors.Is(err, xferr.ErrSocketShutdown) {
				break
			}
			s.log.Warnf("welcoming receive error: %v", err)
			continue
		}
		s.handleSyn(raw, peer)
	}

	s.wg.Wait()
	return nil
}

func (s *Server) handleSyn(raw []byte, peer netaddr.Address) {
	pkt, err := wire.Decode(raw)
	if err != nil || !pkt.IsSyn || len(pkt.Data) != 0 {
		s.log.Debugf("dropping non-syn datagram from %s", peer)
		return
	}
	if s.pool.Has(peer) {
		s.log.Debugf("dropping duplicate syn from %s", peer)
		return
	}
	if pkt.Protocol != s.cfg.Protocol {
		s.log.Warnf("%v from %s", xferr.ErrProtocolMismatch, peer)
		fin := wire.Packet{Protocol: s.cfg.Protocol, IsFin: true}
		s.conn.WriteToUDP(wire.Encode(fin), mustUDPAddr(peer))
		return
	}

	sessConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(s.cfg.Host), Port: 0})
	if err != nil {
		s.log.Errorf("cannot allocate session socket for %s: %v", peer, err)
		return
	}
	_ = sessConn.SetReadBuffer(ftpconfig.SocketBufferBytes)
	_ = sessConn.SetWriteBuffer(ftpconfig.SocketBufferBytes)
	sessLocal := netaddr.FromUDPAddr(sessConn.LocalAddr().(*net.UDPAddr))

	sess := session.NewClientSession(sessConn, sessLocal, peer, s.cfg.Protocol)
	s.pool.Add(sess)
	s.metrics.SessionsActive.Set(float64(s.pool.Len()))

	worker := newWorker(s.cfg, s.log.WithField("session", sess.ID.String()).WithField("peer", peer.String()), s.metrics, sess)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				worker.log.Errorf("worker panic: %v", r)
				sess.State = session.Unrecoverable
			}
			sess.Conn.Close()
			s.pool.Remove(peer)
			s.metrics.SessionsActive.Set(float64(s.pool.Len()))
		}()
		worker.run()
	}()
}

func mustUDPAddr(a netaddr.Address) *net.UDPAddr {
	addr, _ := a.UDPAddr()
	return addr
}
