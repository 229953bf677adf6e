// Package transport wraps a *net.UDPConn with the retransmission
// behavior each recovery engine needs: SAW retransmits the last frame
// sent on every timeout, GBN instead surfaces a RetransmissionNeeded
// error and lets the caller manage window-level resends.
package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"udpftp/internal/ftpconfig"
	"udpftp/internal/netaddr"
	"udpftp/internal/xferr"
)

// DropHook is consulted before every outgoing datagram; returning true
// silently drops it instead of writing to the socket. It exists so
// tests can exercise the retransmission and window-retry paths under
// simulated packet loss without a real lossy network. Production
// callers never set one.
type DropHook func(data []byte) bool

// SAWConn is the stop-and-wait socket wrapper described in component
// design §4.3: it remembers the last datagram sent and retransmits it
// on every read timeout, bounded by NMax attempts and TConnLost total
// elapsed time.
type SAWConn struct {
	conn *net.UDPConn
	drop DropHook

	lastSent []byte
	lastAddr *net.UDPAddr
}

// NewSAWConn wraps an already-bound UDP connection.
func NewSAWConn(conn *net.UDPConn) *SAWConn {
	return &SAWConn{conn: conn}
}

// SetDropHook installs fn as the connection's DropHook, replacing any
// previous one. Passing nil disables dropping.
func (c *SAWConn) SetDropHook(fn DropHook) {
	c.drop = fn
}

// SendTo transmits data to addr and remembers it as the frame to
// retransmit on a future timeout. A dropped send still updates the
// retransmit memory, since the peer never saw it either.
func (c *SAWConn) SendTo(data []byte, addr netaddr.Address) error {
	udpAddr, err := addr.UDPAddr()
	if err != nil {
		return errors.Wrapf(err, "resolve %s", addr)
	}
	c.lastSent = data
	c.lastAddr = udpAddr
	if c.drop != nil && c.drop(data) {
		return nil
	}
	if _, err := c.conn.WriteToUDP(data, udpAddr); err != nil {
		return errors.Wrap(err, "write to udp")
	}
	return nil
}

// RecvFrom blocks for a datagram. When shouldRetransmit is true, a read
// timeout retransmits the last frame sent and keeps waiting, up to
// ftpconfig.NMax attempts or ftpconfig.TConnLost total elapsed time,
// after which it returns xferr.ErrConnectionLost. When false, it blocks
// indefinitely (used by the accepter waiting for a brand-new peer).
func (c *SAWConn) RecvFrom(bufSize int, shouldRetransmit bool) ([]byte, netaddr.Address, error) {
	buf := make([]byte, bufSize)

	if !shouldRetransmit {
		if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, netaddr.Address{}, errors.Wrap(err, "clear read deadline")
		}
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, netaddr.Address{}, classifyReadErr(err)
		}
		return buf[:n], netaddr.FromUDPAddr(addr), nil
	}

	deadline := time.Now().Add(ftpconfig.TConnLost)
	for attempt := 0; attempt < ftpconfig.NMax; attempt++ {
		if time.Now().After(deadline) {
			break
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(ftpconfig.TRetx)); err != nil {
			return nil, netaddr.Address{}, errors.Wrap(err, "set read deadline")
		}
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err == nil {
			return buf[:n], netaddr.FromUDPAddr(addr), nil
		}
		if !isTimeout(err) {
			return nil, netaddr.Address{}, classifyReadErr(err)
		}
		if c.lastSent != nil && c.lastAddr != nil {
			c.conn.WriteToUDP(c.lastSent, c.lastAddr)
		}
	}
	return nil, netaddr.Address{}, errors.Wrap(xferr.ErrConnectionLost, "exhausted retransmission budget")
}

// Shutdown unblocks any pending RecvFrom by closing the connection;
// interpreted by callers as xferr.ErrSocketShutdown.
func (c *SAWConn) Shutdown() error {
	return c.conn.Close()
}

// Close releases the underlying socket.
func (c *SAWConn) Close() error {
	return c.conn.Close()
}

// GBNConn is the go-back-N socket wrapper described in component
// design §4.4: every receive uses a short window-retransmission
// timeout and surfaces it as xferr.ErrRetransmissionNeeded rather than
// retransmitting automatically, since GBN manages resends at window
// granularity.
type GBNConn struct {
	conn *net.UDPConn
	drop DropHook
}

// NewGBNConn wraps an already-bound UDP connection.
func NewGBNConn(conn *net.UDPConn) *GBNConn {
	return &GBNConn{conn: conn}
}

// SetDropHook installs fn as the connection's DropHook, replacing any
// previous one. Passing nil disables dropping.
func (c *GBNConn) SetDropHook(fn DropHook) {
	c.drop = fn
}

// SendTo transmits data to addr.
func (c *GBNConn) SendTo(data []byte, addr netaddr.Address) error {
	udpAddr, err := addr.UDPAddr()
	if err != nil {
		return errors.Wrapf(err, "resolve %s", addr)
	}
	if c.drop != nil && c.drop(data) {
		return nil
	}
	if _, err := c.conn.WriteToUDP(data, udpAddr); err != nil {
		return errors.Wrap(err, "write to udp")
	}
	return nil
}

// RecvFrom blocks for a datagram with a window-retransmission timeout.
// A zero timeout blocks indefinitely, used during ordinary bulk
// reception where the receiver is not itself awaiting a specific ack.
func (c *GBNConn) RecvFrom(bufSize int, timeout time.Duration) ([]byte, netaddr.Address, error) {
	buf := make([]byte, bufSize)
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, netaddr.Address{}, errors.Wrap(err, "set read deadline")
		}
	} else {
		if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, netaddr.Address{}, errors.Wrap(err, "clear read deadline")
		}
	}

	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if isTimeout(err) {
			return nil, netaddr.Address{}, xferr.ErrRetransmissionNeeded
		}
		return nil, netaddr.Address{}, classifyReadErr(err)
	}
	return buf[:n], netaddr.FromUDPAddr(addr), nil
}

// Shutdown unblocks any pending RecvFrom.
func (c *GBNConn) Shutdown() error {
	return c.conn.Close()
}

// Close releases the underlying socket.
func (c *GBNConn) Close() error {
	return c.conn.Close()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func classifyReadErr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return errors.Wrap(xferr.ErrSocketShutdown, "socket closed")
	}
	return errors.Wrap(err, "read from udp")
}
