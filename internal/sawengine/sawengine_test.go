package sawengine

import (
	"bytes"
	"net"
	"testing"

	"udpftp/internal/netaddr"
	"udpftp/internal/seqnum"
	"udpftp/internal/transport"
)

func udpLoopbackPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestSendReceiveRoundTrip(t *testing.T) {
	senderConn, receiverConn := udpLoopbackPair(t)
	receiverAddr := netaddr.FromUDPAddr(receiverConn.LocalAddr().(*net.UDPAddr))
	senderAddr := netaddr.FromUDPAddr(senderConn.LocalAddr().(*net.UDPAddr))

	chunks := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}

	var received [][]byte
	done := make(chan error, 1)
	go func() {
		recvSeq := seqnum.NewSAW()
		conn := transport.NewSAWConn(receiverConn)
		done <- Receive(conn, senderAddr, recvSeq, func(chunk []byte) error {
			received = append(received, append([]byte(nil), chunk...))
			return nil
		})
	}()

	sendSeq := seqnum.NewSAW()
	conn := transport.NewSAWConn(senderConn)
	if err := Send(conn, receiverAddr, sendSeq, chunks); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if len(received) != len(chunks) {
		t.Fatalf("got %d chunks, want %d", len(received), len(chunks))
	}
	for i, want := range chunks {
		if !bytes.Equal(received[i], want) {
			t.Errorf("chunk %d = %q, want %q", i, received[i], want)
		}
	}
}

// TestSendReceiveRoundTripWithLoss drops the receiver's first ack,
// forcing the sender to retransmit the chunk it is waiting on. The
// receiver must recognize the retransmitted chunk as a duplicate of
// what it already accepted and re-ack it without appending twice.
func TestSendReceiveRoundTripWithLoss(t *testing.T) {
	senderConn, receiverConn := udpLoopbackPair(t)
	receiverAddr := netaddr.FromUDPAddr(receiverConn.LocalAddr().(*net.UDPAddr))
	senderAddr := netaddr.FromUDPAddr(senderConn.LocalAddr().(*net.UDPAddr))

	chunks := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}

	var received [][]byte
	done := make(chan error, 1)
	go func() {
		recvSeq := seqnum.NewSAW()
		conn := transport.NewSAWConn(receiverConn)
		acksSent := 0
		conn.SetDropHook(func(data []byte) bool {
			acksSent++
			return acksSent == 1
		})
		done <- Receive(conn, senderAddr, recvSeq, func(chunk []byte) error {
			received = append(received, append([]byte(nil), chunk...))
			return nil
		})
	}()

	sendSeq := seqnum.NewSAW()
	conn := transport.NewSAWConn(senderConn)
	if err := Send(conn, receiverAddr, sendSeq, chunks); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if len(received) != len(chunks) {
		t.Fatalf("got %d chunks, want %d", len(received), len(chunks))
	}
	for i, want := range chunks {
		if !bytes.Equal(received[i], want) {
			t.Errorf("chunk %d = %q, want %q", i, received[i], want)
		}
	}
}
