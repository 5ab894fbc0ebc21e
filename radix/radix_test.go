package radix

import (
	"net"
	"testing"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Errorf("Expected a new trie to not be nil")
	}
}

// keyOf parses cidr into the Key for its network prefix.
func keyOf(cidr string) Key {
	_, n, _ := net.ParseCIDR(cidr)
	length, _ := n.Mask.Size()
	return Key{Prefix: n.IP, Length: length}
}

func TestInsertKeepsValueUnderKey(t *testing.T) {
	_, network, _ := net.ParseCIDR("10.1.1.0/24")
	nextHop := net.ParseIP("1.2.3.4")
	k := keyOf("10.1.1.0/24")
	r := New()
	r.Insert(k, nextHop)
	v, _ := r.Lookup(k)
	if got, _ := v.(net.IP); !got.Equal(nextHop) {
		t.Error("Expected", v, "to equal", nextHop)
	}
	if k.String() != network.String() {
		t.Error("Expected", k.String(), "to equal", network.String())
	}
}

func TestNewHasRoot(t *testing.T) {
	r := New()
	if r.root == nil {
		t.Error("Did not expect root node to be nil")
	}
}

func TestInsert(t *testing.T) {
	r := New()

	r.Insert(keyOf("10.1.1.0/24"), net.ParseIP("1.1.1.1"))
	r.Insert(keyOf("10.1.1.2/32"), net.ParseIP("1.1.1.2"))
	r.Insert(keyOf("10.1.1.1/32"), net.ParseIP("1.1.1.3"))
	r.Insert(keyOf("10.1.1.0/25"), net.ParseIP("1.1.1.4"))
	r.Insert(keyOf("10.1.2.2/24"), net.ParseIP("1.1.1.5"))
	r.Insert(keyOf("10.2.1.0/24"), net.ParseIP("1.1.1.6"))
	r.Insert(keyOf("10.2.0.0/16"), net.ParseIP("1.1.1.7"))

	// Try replacing the next hop
	r.Insert(keyOf("10.2.0.0/16"), net.ParseIP("1.1.1.8"))
}

func TestDelete(t *testing.T) {
	r := New()
	r.Delete(keyOf("10.1.1.0/24"))
}

func TestLookup(t *testing.T) {
	r := New()

	r.Insert(keyOf("10.1.1.0/24"), net.ParseIP("1.1.1.1"))
	r.Insert(keyOf("10.1.1.2/32"), net.ParseIP("1.1.1.2"))
	r.Insert(keyOf("10.1.1.1/32"), net.ParseIP("1.1.1.3"))
	r.Insert(keyOf("10.1.1.0/25"), net.ParseIP("1.1.1.4"))
	r.Insert(keyOf("10.1.2.2/24"), net.ParseIP("1.1.1.5"))
	r.Insert(keyOf("10.2.1.0/24"), net.ParseIP("1.1.1.6"))
	r.Insert(keyOf("10.2.0.0/16"), net.ParseIP("1.1.1.7"))

	// Lookup is exact-match: 10.1.2.2/24 names the inserted 10.1.2.0/24.
	v, ok := r.Lookup(keyOf("10.1.2.2/24"))
	if !ok {
		t.Error("Expected 10.1.2.0/24 to be present")
	}
	if nextHop, _ := v.(net.IP); !nextHop.Equal(net.ParseIP("1.1.1.5")) {
		t.Error("Expected next hop to be", net.ParseIP("1.1.1.5"), "but got", v)
	}

	// A more specific prefix is not answered by its covering /24.
	if _, ok := r.Lookup(keyOf("10.1.2.2/32")); ok {
		t.Error("Did not expect 10.1.2.2/32 to be present")
	}

	if _, ok := r.Lookup(keyOf("192.2.2.2/32")); ok {
		t.Error("Did not expect 192.2.2.2/32 to be present")
	}
}
