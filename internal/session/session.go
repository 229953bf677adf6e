// Package session holds the server-side per-client session record and
// the accepter's table of in-flight sessions.
package session

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"udpftp/internal/netaddr"
	"udpftp/internal/wire"
)

// ConnectionState enumerates the lifecycle of a server-side session, in
// the order a well-behaved session passes through them.
type ConnectionState int

const (
	HandshakeFinished ConnectionState = iota
	ReadyToReceive
	ReadyToTransmit
	Done
	Unrecoverable
)

func (s ConnectionState) String() string {
	switch s {
	case HandshakeFinished:
		return "handshake_finished"
	case ReadyToReceive:
		return "ready_to_receive"
	case ReadyToTransmit:
		return "ready_to_transmit"
	case Done:
		return "done"
	case Unrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// ClientSession is the server's record of a single in-flight client,
// owned exclusively by the worker goroutine that runs it (the
// ClientPool itself is owned by the accepter, see Pool below).
type ClientSession struct {
	ID       uuid.UUID
	Conn     *net.UDPConn
	Local    netaddr.Address
	Peer     netaddr.Address
	Protocol wire.ProtocolKind
	State    ConnectionState
	OpenedAt time.Time
}

// NewClientSession builds a session record bound to conn, freshly
// stamped with a correlation ID for logging.
func NewClientSession(conn *net.UDPConn, local, peer netaddr.Address, protocol wire.ProtocolKind) *ClientSession {
	return &ClientSession{
		ID:       uuid.New(),
		Conn:     conn,
		Local:    local,
		Peer:     peer,
		Protocol: protocol,
		State:    HandshakeFinished,
		OpenedAt: time.Now(),
	}
}

// Pool tracks sessions keyed by peer address. The accepter goroutine
// adds entries; each session's own goroutine removes its entry (and
// reads Len) when it finishes. A mutex guards every method, since
// these calls come from different goroutines.
type Pool struct {
	mu       sync.Mutex
	sessions map[string]*ClientSession
}

// NewPool returns an empty session table.
func NewPool() *Pool {
	return &Pool{sessions: make(map[string]*ClientSession)}
}

// Has reports whether peer already has an active session, used by the
// accepter to silently drop a retransmitted or duplicate SYN.
func (p *Pool) Has(peer netaddr.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[peer.String()]
	return ok
}

// Add inserts sess, keyed by its peer address.
func (p *Pool) Add(sess *ClientSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[sess.Peer.String()] = sess
}

// Remove drops the session for peer, called once a worker reaches Done
// or Unrecoverable.
func (p *Pool) Remove(peer netaddr.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, peer.String())
}

// Len reports the number of active sessions, used to feed
// ftpmetrics.Registry.SessionsActive.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
