// Package sawengine implements the stop-and-wait sender and receiver
// loops described in component design §4.8-4.9: at most one
// unacknowledged data packet in flight at any time.
package sawengine

import (
	"github.com/pkg/errors"

	"udpftp/internal/ftpconfig"
	"udpftp/internal/netaddr"
	"udpftp/internal/seqnum"
	"udpftp/internal/transport"
	"udpftp/internal/wire"
	"udpftp/internal/xferr"
)

const recvBufSize = ftpconfig.ChunkSizeSAW + 64

// Send transmits chunks to peer over conn, toggling seq before each
// send and waiting for its matching ack before moving to the next
// chunk. The final chunk carries IsFin. seq must already hold the
// value used during the handshake/metadata exchange immediately
// preceding the transfer.
func Send(conn *transport.SAWConn, peer netaddr.Address, seq *seqnum.SAW, chunks [][]byte) error {
	for i, chunk := range chunks {
		bit := seq.Step()
		isFin := i == len(chunks)-1
		pkt := wire.Packet{Protocol: wire.SAW, SeqBit: bit, IsFin: isFin, Data: chunk}
		if err := conn.SendTo(wire.EncodeSAW(pkt), peer); err != nil {
			return errors.Wrap(err, "send chunk")
		}
		if isFin {
			continue
		}
		if err := awaitAck(conn, bit); err != nil {
			return err
		}
	}
	return nil
}

// awaitAck blocks (retransmitting the last chunk on timeout) until an
// ack carrying the expected sequence bit arrives. Acks with a mismatched
// bit are stale duplicates from an earlier retransmission round and are
// ignored.
func awaitAck(conn *transport.SAWConn, expectBit uint8) error {
	for {
		raw, _, err := conn.RecvFrom(recvBufSize, true)
		if err != nil {
			return err
		}
		pkt, err := wire.DecodeSAW(raw)
		if err != nil {
			continue
		}
		if !pkt.IsAck {
			continue
		}
		if pkt.SeqBit != expectBit {
			continue
		}
		return nil
	}
}

// Receive reads chunks from conn until a FIN chunk arrives, appending
// each to appendChunk in order. A chunk whose bit matches the last
// accepted chunk is a retransmitted duplicate (the sender never saw our
// ack): it is re-acked without being appended again.
func Receive(conn *transport.SAWConn, peer netaddr.Address, seq *seqnum.SAW, appendChunk func([]byte) error) error {
	lastAccepted := seq.Value()
	haveAccepted := false

	for {
		expect := oppositeBit(seq.Value())
		raw, _, err := conn.RecvFrom(recvBufSize, true)
		if err != nil {
			return err
		}
		pkt, err := wire.DecodeSAW(raw)
		if err != nil {
			return errors.Wrap(xferr.ErrMalformedFrame, "receive chunk")
		}

		if haveAccepted && pkt.SeqBit == lastAccepted {
			ack := wire.Packet{Protocol: wire.SAW, SeqBit: pkt.SeqBit, IsAck: true}
			if sendErr := conn.SendTo(wire.EncodeSAW(ack), peer); sendErr != nil {
				return errors.Wrap(sendErr, "re-ack duplicate chunk")
			}
			continue
		}
		if pkt.SeqBit != expect {
			return errors.Wrapf(xferr.ErrInvalidSequenceNumber, "want bit %d, got %d", expect, pkt.SeqBit)
		}

		if err := appendChunk(pkt.Data); err != nil {
			return err
		}
		seq.Step()
		lastAccepted = pkt.SeqBit
		haveAccepted = true

		if pkt.IsFin {
			ack := wire.Packet{Protocol: wire.SAW, SeqBit: pkt.SeqBit, IsAck: true, IsFin: true}
			return conn.SendTo(wire.EncodeSAW(ack), peer)
		}
		ack := wire.Packet{Protocol: wire.SAW, SeqBit: pkt.SeqBit, IsAck: true}
		if err := conn.SendTo(wire.EncodeSAW(ack), peer); err != nil {
			return errors.Wrap(err, "ack chunk")
		}
	}
}

func oppositeBit(v uint8) uint8 {
	return v ^ 1
}
