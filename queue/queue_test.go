package queue

import (
	"bytes"
	"testing"
)

func TestNew(t *testing.T) {
	q := New()
	if q.Len() != 0 {
		t.Errorf("Expected queue to be empty but it has %d bytes", q.Len())
	}
}

func TestPush(t *testing.T) {
	q := New()
	for i := 0; i < 10; i++ {
		q.Push([]byte{0x01, 0x02, 0x03, 0x04})
	}
	if q.Len() != 40 {
		t.Errorf("Pushed 10 four-byte items onto the queue but it holds %d bytes", q.Len())
	}
}

func TestAdvanceConsumesInPushOrder(t *testing.T) {
	q := New()
	items := [][]byte{{0x00}, {0x11}, {0x22}, {0x33}, {0x44}}
	for _, item := range items {
		q.Push(item)
	}
	for i := 0; i < len(items); i++ {
		head := q.Bytes()[:1]
		if bytes.Compare(head, items[i]) != 0 {
			t.Errorf("Head is %v but expected %v", head, items[i])
		}
		q.Advance(1)
	}
}
