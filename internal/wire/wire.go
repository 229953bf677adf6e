// Package wire implements the bit-exact SAW and GBN packet formats.
//
// SAW frame (6-byte header, network byte order):
//
//	byte 0-1  [protocol:2 | seq_bit:1 | is_ack:1 | is_syn:1 | is_fin:1 | reserved:10]
//	byte 2-3  port (uint16)
//	byte 4-5  payload_length (uint16)
//	byte 6..  data[payload_length]
//
// GBN frame (16-byte header, network byte order):
//
//	byte 0-1   [protocol:2 | is_ack:1 | is_syn:1 | is_fin:1 | reserved:11]
//	byte 2-3   port (uint16)
//	byte 4-7   payload_length (uint32)
//	byte 8-11  sequence_number (uint32)
//	byte 12-15 ack_number (uint32)
//	byte 16..  data[payload_length]
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"udpftp/internal/xferr"
)

// ProtocolKind tags which of the two wire formats a packet uses.
type ProtocolKind uint8

const (
	// SAW is protocol code 0b00.
	SAW ProtocolKind = 0b00
	// GBN is protocol code 0b01.
	GBN ProtocolKind = 0b01
)

func (p ProtocolKind) String() string {
	if p == GBN {
		return "gbn"
	}
	return "saw"
}

const (
	sawHeaderLen = 6
	gbnHeaderLen = 16

	flagProtocolShift = 14
	flagProtocolMask  = 0b11

	// SAW flag-word bit positions, counting from the MSB after the 2-bit
	// protocol field.
	sawSeqBit = 1 << 13
	sawAckBit = 1 << 12
	sawSynBit = 1 << 11
	sawFinBit = 1 << 10

	// GBN flag-word bit positions.
	gbnAckBit = 1 << 13
	gbnSynBit = 1 << 12
	gbnFinBit = 1 << 11
)

// Packet is the protocol-agnostic in-memory representation of a frame.
type Packet struct {
	Protocol ProtocolKind
	IsSyn    bool
	IsAck    bool
	IsFin    bool
	Port     uint16

	// SeqBit carries the SAW 1-bit toggling sequence number.
	SeqBit uint8

	// SequenceNumber and AckNumber carry the GBN 32-bit counters.
	SequenceNumber uint32
	AckNumber      uint32

	Data []byte
}

// EncodeSAW serializes p using the 6-byte SAW header. p.Protocol is
// forced to SAW in the output.
func EncodeSAW(p Packet) []byte {
	flags := uint16(SAW&flagProtocolMask) << flagProtocolShift
	if p.SeqBit != 0 {
		flags |= sawSeqBit
	}
	if p.IsAck {
		flags |= sawAckBit
	}
	if p.IsSyn {
		flags |= sawSynBit
	}
	if p.IsFin {
		flags |= sawFinBit
	}

	out := make([]byte, sawHeaderLen+len(p.Data))
	binary.BigEndian.PutUint16(out[0:2], flags)
	binary.BigEndian.PutUint16(out[2:4], p.Port)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(p.Data)))
	copy(out[sawHeaderLen:], p.Data)
	return out
}

// EncodeGBN serializes p using the 16-byte GBN header. p.Protocol is
// forced to GBN in the output.
func EncodeGBN(p Packet) []byte {
	flags := uint16(GBN&flagProtocolMask) << flagProtocolShift
	if p.IsAck {
		flags |= gbnAckBit
	}
	if p.IsSyn {
		flags |= gbnSynBit
	}
	if p.IsFin {
		flags |= gbnFinBit
	}

	out := make([]byte, gbnHeaderLen+len(p.Data))
	binary.BigEndian.PutUint16(out[0:2], flags)
	binary.BigEndian.PutUint16(out[2:4], p.Port)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(p.Data)))
	binary.BigEndian.PutUint32(out[8:12], p.SequenceNumber)
	binary.BigEndian.PutUint32(out[12:16], p.AckNumber)
	copy(out[gbnHeaderLen:], p.Data)
	return out
}

// Encode dispatches to EncodeSAW or EncodeGBN based on p.Protocol.
func Encode(p Packet) []byte {
	if p.Protocol == GBN {
		return EncodeGBN(p)
	}
	return EncodeSAW(p)
}

// PeekProtocol reads the 2-bit protocol tag out of a raw frame's first
// byte without fully decoding it, letting a caller pick the right Decode
// function (or reject a frame whose protocol disagrees with the session).
func PeekProtocol(raw []byte) (ProtocolKind, error) {
	if len(raw) < 2 {
		return 0, errors.Wrap(xferr.ErrMalformedFrame, "frame shorter than flag word")
	}
	flags := binary.BigEndian.Uint16(raw[0:2])
	code := ProtocolKind((flags >> flagProtocolShift) & flagProtocolMask)
	if code == GBN {
		return GBN, nil
	}
	return SAW, nil
}

// DecodeSAW parses raw as a SAW frame.
func DecodeSAW(raw []byte) (Packet, error) {
	if len(raw) < sawHeaderLen {
		return Packet{}, errors.Wrapf(xferr.ErrMalformedFrame, "saw frame too short: %d bytes", len(raw))
	}
	flags := binary.BigEndian.Uint16(raw[0:2])
	payloadLen := binary.BigEndian.Uint16(raw[4:6])
	if int(payloadLen) != len(raw)-sawHeaderLen {
		return Packet{}, errors.Wrapf(xferr.ErrMalformedFrame, "saw payload length mismatch: header says %d, got %d", payloadLen, len(raw)-sawHeaderLen)
	}

	p := Packet{
		Protocol: SAW,
		Port:     binary.BigEndian.Uint16(raw[2:4]),
		IsAck:    flags&sawAckBit != 0,
		IsSyn:    flags&sawSynBit != 0,
		IsFin:    flags&sawFinBit != 0,
		Data:     append([]byte(nil), raw[sawHeaderLen:]...),
	}
	if flags&sawSeqBit != 0 {
		p.SeqBit = 1
	}
	return p, nil
}

// DecodeGBN parses raw as a GBN frame.
func DecodeGBN(raw []byte) (Packet, error) {
	if len(raw) < gbnHeaderLen {
		return Packet{}, errors.Wrapf(xferr.ErrMalformedFrame, "gbn frame too short: %d bytes", len(raw))
	}
	flags := binary.BigEndian.Uint16(raw[0:2])
	payloadLen := binary.BigEndian.Uint32(raw[4:8])
	if int(payloadLen) != len(raw)-gbnHeaderLen {
		return Packet{}, errors.Wrapf(xferr.ErrMalformedFrame, "gbn payload length mismatch: header says %d, got %d", payloadLen, len(raw)-gbnHeaderLen)
	}

	p := Packet{
		Protocol:       GBN,
		Port:           binary.BigEndian.Uint16(raw[2:4]),
		IsAck:          flags&gbnAckBit != 0,
		IsSyn:          flags&gbnSynBit != 0,
		IsFin:          flags&gbnFinBit != 0,
		SequenceNumber: binary.BigEndian.Uint32(raw[8:12]),
		AckNumber:      binary.BigEndian.Uint32(raw[12:16]),
		Data:           append([]byte(nil), raw[gbnHeaderLen:]...),
	}
	return p, nil
}

// Decode peeks the protocol tag and dispatches to the matching decoder.
func Decode(raw []byte) (Packet, error) {
	kind, err := PeekProtocol(raw)
	if err != nil {
		return Packet{}, err
	}
	if kind == GBN {
		return DecodeGBN(raw)
	}
	return DecodeSAW(raw)
}
