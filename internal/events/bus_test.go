package events

import (
	"errors"
	"testing"

	"github.com/AcrylicShrimp/fathom/pkg/models"
)

func publishN(b *Bus, n int) {
	for i := 0; i < n; i++ {
		b.Publish(models.SessionEvent{Type: models.EventAgentStream})
	}
}

func TestSequenceStrictlyIncreases(t *testing.T) {
	b := NewBus("s1", 16, 16)
	var last uint64
	for i := 0; i < 5; i++ {
		seq := b.Publish(models.SessionEvent{Type: models.EventAgentStream})
		if seq <= last {
			t.Fatalf("seq %d not greater than %d", seq, last)
		}
		last = seq
	}
}

func TestLiveSubscriberReceivesInOrder(t *testing.T) {
	b := NewBus("s1", 16, 16)
	sub, err := b.Subscribe(0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	publishN(b, 3)
	b.Close()

	var seqs []uint64
	for event := range sub.C {
		seqs = append(seqs, event.Seq)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Errorf("got seqs %v", seqs)
	}
}

func TestBacklogReplayFromSeq(t *testing.T) {
	b := NewBus("s1", 16, 16)
	publishN(b, 5)

	sub, err := b.Subscribe(3)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	publishN(b, 1)
	b.Close()

	var seqs []uint64
	for event := range sub.C {
		seqs = append(seqs, event.Seq)
	}
	want := []uint64{3, 4, 5, 6}
	if len(seqs) != len(want) {
		t.Fatalf("got %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("got %v, want %v", seqs, want)
		}
	}
}

func TestExpiredBacklog(t *testing.T) {
	b := NewBus("s1", 4, 16)
	publishN(b, 10) // ring now holds seqs 7..10

	if _, err := b.Subscribe(2); !errors.Is(err, ErrEventsExpired) {
		t.Errorf("got %v, want ErrEventsExpired", err)
	}
	if _, err := b.Subscribe(7); err != nil {
		t.Errorf("floor of retention should be subscribable, got %v", err)
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	b := NewBus("s1", 64, 2)
	sub, err := b.Subscribe(0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Fill the buffer and overflow it without draining.
	publishN(b, 5)

	var got int
	for range sub.C {
		got++
	}
	if got != 2 {
		t.Errorf("read %d buffered events, want 2", got)
	}
	if !errors.Is(sub.Err(), ErrSubscriberLagged) {
		t.Errorf("Err() = %v, want ErrSubscriberLagged", sub.Err())
	}
}

func TestCloseDrainsBufferedEvents(t *testing.T) {
	b := NewBus("s1", 16, 16)
	sub, _ := b.Subscribe(0)
	publishN(b, 3)
	b.Close()

	var got int
	for range sub.C {
		got++
	}
	if got != 3 {
		t.Errorf("drained %d events, want 3", got)
	}
	if sub.Err() != nil {
		t.Errorf("clean close should not report an error, got %v", sub.Err())
	}

	if _, err := b.Subscribe(0); !errors.Is(err, ErrBusClosed) {
		t.Errorf("subscribe after close: got %v, want ErrBusClosed", err)
	}
}
