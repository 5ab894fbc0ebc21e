package message

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeOpenRoundTrip(t *testing.T) {
	o := OpenMessage{
		Version:       Version,
		ASN:           65001,
		HoldTime:      90,
		BGPIdentifier: 0x01020304,
		Parameters:    EncodeCapabilities([]Capability{{Code: CapRouteRefresh}}),
	}
	body, err := EncodeOpen(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := DecodeOpen(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Version != o.Version || got.ASN != o.ASN || got.HoldTime != o.HoldTime || got.BGPIdentifier != o.BGPIdentifier {
		t.Errorf("expected %+v, got %+v", o, got)
	}
	if !bytes.Equal(got.Parameters, o.Parameters) {
		t.Errorf("expected parameters %v, got %v", o.Parameters, got.Parameters)
	}
}

func TestEncodeOpenNoParameters(t *testing.T) {
	o := OpenMessage{Version: Version, ASN: 65001, HoldTime: 90, BGPIdentifier: 1}
	body, err := EncodeOpen(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body) != MinOpenMessageLength-HeaderLength {
		t.Errorf("expected %d bytes, got %d", MinOpenMessageLength-HeaderLength, len(body))
	}
}

func TestDecodeOpenShortBody(t *testing.T) {
	if _, err := DecodeOpen(make([]byte, 5)); err == nil {
		t.Errorf("expected an error for a truncated OPEN body")
	}
}

func TestWrapCapabilityParameterEmpty(t *testing.T) {
	if got := wrapCapabilityParameter(nil); got != nil {
		t.Errorf("expected nil for an empty capability set, got %v", got)
	}
}
