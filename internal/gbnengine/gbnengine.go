// Package gbnengine implements the go-back-N sender and receiver
// described in component design §4.10-4.11: a sliding window of
// outstanding chunks with cumulative acknowledgement and whole-window
// retransmission on loss.
package gbnengine

import (
	"time"

	"github.com/pkg/errors"

	"udpftp/internal/ftpconfig"
	"udpftp/internal/netaddr"
	"udpftp/internal/seqnum"
	"udpftp/internal/transport"
	"udpftp/internal/wire"
	"udpftp/internal/xferr"
)

const recvBufSize = ftpconfig.ChunkSizeGBN + 64

// Sender runs the GBN sender state machine over a pre-materialized
// slice of chunks.
type Sender struct {
	conn       *transport.GBNConn
	peer       netaddr.Address
	chunks     [][]byte
	initialSeq uint32
	windowSize uint32
	windowRetx time.Duration

	base      *seqnum.GBN // count of chunks acked so far
	nextSeq   *seqnum.GBN // count of chunks sent so far (window frontier)
	ackNumber *seqnum.GBN // last cumulative ack number adopted from the peer
}

// NewSender builds a Sender starting from initialSeq (the sequence
// number in force when the handshake/metadata exchange ended) with the
// default window size and window-retransmission timeout. Chunk i is
// sent with wire sequence number initialSeq+i+1, so the first ack a
// sender can legitimately adopt is initialSeq+1.
func NewSender(conn *transport.GBNConn, peer netaddr.Address, chunks [][]byte, initialSeq uint32) *Sender {
	ackNumber := seqnum.NewGBN()
	ackNumber.Set(initialSeq + 1)
	return &Sender{
		conn:       conn,
		peer:       peer,
		chunks:     chunks,
		initialSeq: initialSeq,
		windowSize: ftpconfig.WindowSize,
		windowRetx: ftpconfig.TWindowRetx,
		base:       seqnum.NewGBN(),
		nextSeq:    seqnum.NewGBN(),
		ackNumber:  ackNumber,
	}
}

// Run drives the sender to completion: every chunk sent and
// acknowledged, in order.
func (s *Sender) Run() error {
	total := uint32(len(s.chunks))
	idle := time.Duration(0)

	for s.base.Value() < total {
		s.fillWindow(total)

		raw, _, err := s.conn.RecvFrom(recvBufSize, s.windowRetx)
		if err != nil {
			if errors.Is(err, xferr.ErrRetransmissionNeeded) {
				idle += s.windowRetx
				if idle >= ftpconfig.TWindowRetx*time.Duration(ftpconfig.NMax) {
					return errors.Wrap(xferr.ErrConnectionLost, "gbn window retransmission budget exhausted")
				}
				// Rewind the window frontier to an independent copy of base,
				// so refilling the window resends everything still unacked.
				s.nextSeq = s.base.Clone()
				continue
			}
			return err
		}

		pkt, err := wire.DecodeGBN(raw)
		if err != nil {
			continue
		}
		if !pkt.IsAck {
			continue
		}

		if pkt.AckNumber < s.ackNumber.Value() {
			// Stale/duplicate ack from an earlier round, ignore and keep
			// waiting for the one that advances the window.
			idle += s.windowRetx
			if idle >= ftpconfig.TWindowRetx*time.Duration(ftpconfig.NMax) {
				return errors.Wrap(xferr.ErrConnectionLost, "gbn window retransmission budget exhausted")
			}
			continue
		}
		advance := pkt.AckNumber - s.ackNumber.Value()
		if advance > s.nextSeq.Value()-s.base.Value() {
			return errors.Wrap(xferr.ErrInvalidAckNumber, "ack acknowledges more chunks than were sent")
		}
		idle = 0
		s.base.Add(advance)
		s.ackNumber.Set(pkt.AckNumber)
	}
	return nil
}

func (s *Sender) fillWindow(total uint32) {
	for s.nextSeq.Value() < s.base.Value()+s.windowSize && s.nextSeq.Value() < total {
		i := s.nextSeq.Value()
		chunk := s.chunks[i]
		pkt := wire.Packet{
			Protocol:       wire.GBN,
			IsFin:          i == total-1,
			SequenceNumber: s.initialSeq + i + 1,
			AckNumber:      s.ackNumber.Value(),
			Data:           chunk,
		}
		s.conn.SendTo(wire.EncodeGBN(pkt), s.peer)
		s.nextSeq.Step()
	}
}

// Receiver runs the GBN receiver state machine, appending in-order
// chunks via appendChunk and sending cumulative acks.
type Receiver struct {
	conn        *transport.GBNConn
	peer        netaddr.Address
	expectedSeq *seqnum.GBN
}

// NewReceiver builds a Receiver whose first expected sequence number is
// initialSeq+1, matching the sender's numbering (chunk i carries
// sequence number initialSeq+i+1).
func NewReceiver(conn *transport.GBNConn, peer netaddr.Address, initialSeq uint32) *Receiver {
	expected := seqnum.NewGBN()
	expected.Set(initialSeq + 1)
	return &Receiver{conn: conn, peer: peer, expectedSeq: expected}
}

// Run reads chunks until an in-order FIN chunk arrives, returning the
// final ack number sent.
func (r *Receiver) Run(appendChunk func([]byte) error) (uint32, error) {
	for {
		raw, _, err := r.conn.RecvFrom(recvBufSize, 0)
		if err != nil {
			return 0, err
		}
		pkt, err := wire.DecodeGBN(raw)
		if err != nil {
			continue
		}

		if pkt.SequenceNumber != r.expectedSeq.Value() {
			// Out of order or duplicate: re-send the last cumulative ack,
			// triggering the sender's repeated-ack detection without
			// selective retransmission.
			ack := wire.Packet{Protocol: wire.GBN, IsAck: true, AckNumber: r.expectedSeq.Value()}
			r.conn.SendTo(wire.EncodeGBN(ack), r.peer)
			continue
		}

		if err := appendChunk(pkt.Data); err != nil {
			return 0, err
		}
		r.expectedSeq.Step()

		ack := wire.Packet{Protocol: wire.GBN, IsAck: true, AckNumber: r.expectedSeq.Value()}
		if err := r.conn.SendTo(wire.EncodeGBN(ack), r.peer); err != nil {
			return 0, errors.Wrap(err, "ack chunk")
		}

		if pkt.IsFin {
			return r.expectedSeq.Value(), nil
		}
	}
}
