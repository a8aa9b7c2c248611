package heartbeat

import (
	"bytes"
	"testing"
)

func TestEchoMessageRoundTrip(t *testing.T) {
	msg := echoMessage{nodeID: 7, startNonce: 123456789, number: 42}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	var got echoMessage
	if _, err := got.ReadFrom(&buf); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got != msg {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestParamsMessageRoundTrip(t *testing.T) {
	msg := paramsMessage{
		nodeID:    2,
		heartbeat: newEndpoint("127.0.0.1", 1237),
		openflow:  newEndpoint("10.0.0.1", 6653),
		db:        newEndpoint("10.0.0.2", 6379),
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	var got paramsMessage
	if _, err := got.ReadFrom(&buf); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}

	if got.NodeID() != "2" {
		t.Fatalf("unexpected node id %q", got.NodeID())
	}
	if got.HeartbeatAddr() != "127.0.0.1" || got.HeartbeatPort() != 1237 {
		t.Fatalf("unexpected heartbeat endpoint %s:%d", got.HeartbeatAddr(), got.HeartbeatPort())
	}
	if got.OpenflowAddr() != "10.0.0.1" || got.OpenflowPort() != 6653 {
		t.Fatalf("unexpected openflow endpoint %s:%d", got.OpenflowAddr(), got.OpenflowPort())
	}
	if got.DBAddr() != "10.0.0.2" || got.DBPort() != 6379 {
		t.Fatalf("unexpected db endpoint %s:%d", got.DBAddr(), got.DBPort())
	}
}

func TestEncodeDecodeDatagram(t *testing.T) {
	data, err := encodeDatagram(cmdEchoRequest, echoMessage{nodeID: 1, startNonce: 5, number: 9})
	if err != nil {
		t.Fatalf("encodeDatagram: %v", err)
	}

	cmd, rest, err := decodeCommand(data)
	if err != nil {
		t.Fatalf("decodeCommand: %v", err)
	}
	if cmd != cmdEchoRequest {
		t.Fatalf("expected cmdEchoRequest, got %v", cmd)
	}

	var msg echoMessage
	if _, err := msg.ReadFrom(bytes.NewReader(rest)); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if msg.nodeID != 1 || msg.startNonce != 5 || msg.number != 9 {
		t.Fatalf("unexpected decoded message %+v", msg)
	}
}
