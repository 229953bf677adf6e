package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSAWRoundTrip(t *testing.T) {
	cases := []Packet{
		{Protocol: SAW, Port: 9000, Data: []byte("hello")},
		{Protocol: SAW, IsSyn: true, Port: 9001},
		{Protocol: SAW, IsAck: true, SeqBit: 1, Port: 9002, Data: []byte{1, 2, 3}},
		{Protocol: SAW, IsFin: true, Port: 9003},
	}
	for _, want := range cases {
		raw := EncodeSAW(want)
		got, err := DecodeSAW(raw)
		if err != nil {
			t.Fatalf("DecodeSAW: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestGBNRoundTrip(t *testing.T) {
	cases := []Packet{
		{Protocol: GBN, Port: 9000, SequenceNumber: 1, AckNumber: 0, Data: []byte("hello world")},
		{Protocol: GBN, IsSyn: true, Port: 9001},
		{Protocol: GBN, IsAck: true, SequenceNumber: 42, AckNumber: 43},
		{Protocol: GBN, IsFin: true, SequenceNumber: 100, AckNumber: 99},
	}
	for _, want := range cases {
		raw := EncodeGBN(want)
		got, err := DecodeGBN(raw)
		if err != nil {
			t.Fatalf("DecodeGBN: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestPeekProtocolDispatchesDecode(t *testing.T) {
	saw := EncodeSAW(Packet{Protocol: SAW, Port: 1, Data: []byte("x")})
	gbn := EncodeGBN(Packet{Protocol: GBN, Port: 1, Data: []byte("y")})

	if kind, err := PeekProtocol(saw); err != nil || kind != SAW {
		t.Fatalf("PeekProtocol(saw) = %v, %v; want SAW, nil", kind, err)
	}
	if kind, err := PeekProtocol(gbn); err != nil || kind != GBN {
		t.Fatalf("PeekProtocol(gbn) = %v, %v; want GBN, nil", kind, err)
	}

	decodedSAW, err := Decode(saw)
	if err != nil || decodedSAW.Protocol != SAW {
		t.Fatalf("Decode(saw) = %+v, %v; want SAW packet", decodedSAW, err)
	}
	decodedGBN, err := Decode(gbn)
	if err != nil || decodedGBN.Protocol != GBN {
		t.Fatalf("Decode(gbn) = %+v, %v; want GBN packet", decodedGBN, err)
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	if _, err := DecodeSAW([]byte{0, 0, 0}); err == nil {
		t.Fatal("expected error for short SAW frame")
	}
	if _, err := DecodeGBN(make([]byte, 10)); err == nil {
		t.Fatal("expected error for short GBN frame")
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	raw := EncodeSAW(Packet{Protocol: SAW, Data: []byte("abcd")})
	raw = append(raw, 0xFF) // trailing byte not reflected in payload_length
	if _, err := DecodeSAW(raw); err == nil {
		t.Fatal("expected length-mismatch error")
	}
}
