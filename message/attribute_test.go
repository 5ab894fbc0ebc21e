package message

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeAttributeRoundTrip(t *testing.T) {
	raw := encodeAttribute(Origin, []byte{OriginIGP})
	attrs, err := decodeAttributes(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Type != Origin {
		t.Errorf("expected ORIGIN, got %v", attrs[0].Type)
	}
	if !bytes.Equal(attrs[0].Value, []byte{OriginIGP}) {
		t.Errorf("expected value [0], got %v", attrs[0].Value)
	}
	if !attrs[0].Flags.wellKnown() || !attrs[0].Flags.transitive() {
		t.Errorf("expected ORIGIN to be well-known and transitive, got flags %x", attrs[0].Flags)
	}
}

func TestEncodeAttributeExtendedLength(t *testing.T) {
	value := bytes.Repeat([]byte{0xAA}, 300)
	raw := encodeAttribute(ASPath, value)
	attrs, err := decodeAttributes(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attrs[0].Value) != 300 {
		t.Errorf("expected 300-byte value, got %d", len(attrs[0].Value))
	}
	if !attrs[0].Flags.extendedLength() {
		t.Errorf("expected the extended length bit to be set")
	}
}

func TestDecodeAttributesBadFlags(t *testing.T) {
	// ORIGIN must be well-known/transitive; flag it optional instead.
	var buf bytes.Buffer
	buf.WriteByte(byte(optional | transitive))
	buf.WriteByte(byte(Origin))
	buf.WriteByte(1)
	buf.WriteByte(OriginIGP)
	_, err := decodeAttributes(buf.Bytes())
	if err == nil {
		t.Fatalf("expected an error for a mismatched ORIGIN flags octet")
	}
	fe, ok := err.(*FrameError)
	if !ok {
		t.Fatalf("expected a *FrameError, got %T", err)
	}
	if fe.Notification.Subcode != AttributeFlagsError {
		t.Errorf("expected AttributeFlagsError, got %d", fe.Notification.Subcode)
	}
}

func TestDecodeAttributesTruncated(t *testing.T) {
	_, err := decodeAttributes([]byte{byte(wellKnown | transitive), byte(Origin), 5, 1})
	if err == nil {
		t.Fatalf("expected an error for a truncated attribute value")
	}
}

func TestUnknownAttributeDefaultsOptionalTransitive(t *testing.T) {
	raw := encodeAttribute(AttributeType(200), []byte{1, 2, 3})
	attrs, err := decodeAttributes(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !attrs[0].Flags.optional() || !attrs[0].Flags.transitive() {
		t.Errorf("expected an unknown type to default to optional+transitive, got flags %x", attrs[0].Flags)
	}
}
