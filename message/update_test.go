package message

import (
	"bytes"
	"net"
	"testing"
)

func TestPackPrefix(t *testing.T) {
	cases := []struct {
		length int
		want   int
	}{
		{32, 4}, {25, 4}, {24, 3}, {16, 2}, {8, 1}, {1, 1}, {0, 0},
	}
	for _, c := range cases {
		b := packPrefix(c.length, net.ParseIP("1.2.3.4"))
		if len(b) != c.want {
			t.Errorf("packPrefix(%d, 1.2.3.4): expected %d bytes, got %d", c.length, c.want, len(b))
		}
	}
}

func TestEncodeDecodeUpdateRoundTrip(t *testing.T) {
	u := UpdateMessage{
		Withdrawn: []Prefix{{Length: 24, IP: net.ParseIP("10.0.1.0")}},
		Attributes: []Attribute{
			{Type: Origin, Value: []byte{OriginIGP}},
			{Type: NextHop, Value: net.ParseIP("192.0.2.1").To4()},
		},
		NLRI: []Prefix{
			{Length: 23, IP: net.ParseIP("1.2.3.4")},
			{Length: 32, IP: net.ParseIP("198.51.100.7")},
		},
	}
	body := EncodeUpdate(u)
	got, err := DecodeUpdate(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Withdrawn) != 1 || got.Withdrawn[0].Length != 24 {
		t.Errorf("expected one /24 withdrawn prefix, got %+v", got.Withdrawn)
	}
	if len(got.NLRI) != 2 {
		t.Fatalf("expected 2 NLRI entries, got %d", len(got.NLRI))
	}
	if got.NLRI[0].Length != 23 || !got.NLRI[0].IP.Equal(net.ParseIP("1.2.3.0").To4()) {
		t.Errorf("expected 1.2.3.0/23 (trailing bits zeroed by the peer's padding, but the first 23 bits preserved), got %+v", got.NLRI[0])
	}
	if len(got.Attributes) != 2 {
		t.Errorf("expected 2 attributes, got %d", len(got.Attributes))
	}
}

func TestDecodeUpdateEmpty(t *testing.T) {
	u := UpdateMessage{}
	body := EncodeUpdate(u)
	got, err := DecodeUpdate(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Withdrawn) != 0 || len(got.Attributes) != 0 || len(got.NLRI) != 0 {
		t.Errorf("expected an empty UPDATE to round-trip empty, got %+v", got)
	}
}

func TestDecodeUpdateTooShort(t *testing.T) {
	if _, err := DecodeUpdate([]byte{0, 0, 0}); err == nil {
		t.Errorf("expected an error for a 3-byte UPDATE body")
	}
}

func TestDecodePrefixesRejectsOversizeLength(t *testing.T) {
	// A Length field claiming 40 bits in an IPv4-only field is invalid.
	body := []byte{40, 1, 2, 3, 4, 5}
	if _, err := decodePrefixes(bytes.NewBuffer(body), 4); err == nil {
		t.Errorf("expected an error for a Length field exceeding the address width")
	}
}

func TestEncodeDecodeMPReachIPv6(t *testing.T) {
	v := MPReachValue{
		Family:  IPv6Unicast,
		NextHop: net.ParseIP("2001:db8::1"),
		NLRI:    []Prefix{{Length: 64, IP: net.ParseIP("2001:db8:1::")}},
	}
	raw := EncodeMPReach(v)
	got, err := DecodeMPReach(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Family != IPv6Unicast {
		t.Errorf("expected IPv6 unicast family, got %+v", got.Family)
	}
	if !got.NextHop.Equal(v.NextHop) {
		t.Errorf("expected next hop %v, got %v", v.NextHop, got.NextHop)
	}
	if len(got.NLRI) != 1 || got.NLRI[0].Length != 64 {
		t.Errorf("expected one /64, got %+v", got.NLRI)
	}
}

func TestEncodeDecodeMPUnreachIPv6(t *testing.T) {
	v := MPUnreachValue{
		Family: IPv6Unicast,
		NLRI:   []Prefix{{Length: 48, IP: net.ParseIP("2001:db8:1::")}},
	}
	raw := EncodeMPUnreach(v)
	got, err := DecodeMPUnreach(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.NLRI) != 1 || got.NLRI[0].Length != 48 {
		t.Errorf("expected one /48, got %+v", got.NLRI)
	}
}
