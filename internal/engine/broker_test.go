package engine

import (
	"testing"
	"time"

	"github.com/stratus-tools/paceline/internal/model"
)

func recvResult(t *testing.T, ch <-chan model.WorkerResult) (model.WorkerResult, bool) {
	t.Helper()
	select {
	case r, ok := <-ch:
		return r, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
		return model.WorkerResult{}, false
	}
}

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewResultBroker()

	ch, unsub := b.Subscribe("run-1")
	defer unsub()

	b.Publish("run-1", model.WorkerResult{WorkItemID: "a", Status: model.StatusPassed})
	b.Publish("run-2", model.WorkerResult{WorkItemID: "x", Status: model.StatusFailed})

	r, ok := recvResult(t, ch)
	if !ok {
		t.Fatal("channel closed unexpectedly")
	}
	if r.WorkItemID != "a" {
		t.Errorf("WorkItemID = %q, want a (results from other runs must not cross over)", r.WorkItemID)
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := NewResultBroker()

	ch1, unsub1 := b.Subscribe("run-1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("run-1")
	defer unsub2()

	b.Publish("run-1", model.WorkerResult{WorkItemID: "a"})

	for i, ch := range []<-chan model.WorkerResult{ch1, ch2} {
		if r, _ := recvResult(t, ch); r.WorkItemID != "a" {
			t.Errorf("subscriber %d got %q, want a", i, r.WorkItemID)
		}
	}
}

func TestBrokerCloseEndsStream(t *testing.T) {
	b := NewResultBroker()

	ch, unsub := b.Subscribe("run-1")
	defer unsub()

	b.Publish("run-1", model.WorkerResult{WorkItemID: "a"})
	b.Close("run-1")

	if r, ok := recvResult(t, ch); !ok || r.WorkItemID != "a" {
		t.Fatalf("got (%q, %v), want buffered result before close", r.WorkItemID, ok)
	}
	if _, ok := recvResult(t, ch); ok {
		t.Error("channel still open after Close")
	}

	// Publishing to a closed topic is a no-op.
	b.Publish("run-1", model.WorkerResult{WorkItemID: "b"})
}

func TestBrokerLateSubscriberGetsClosedChannel(t *testing.T) {
	b := NewResultBroker()

	b.Close("run-1")

	ch, unsub := b.Subscribe("run-1")
	defer unsub()
	if _, ok := recvResult(t, ch); ok {
		t.Error("late subscriber channel open, want closed")
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewResultBroker()

	ch, unsub := b.Subscribe("run-1")
	unsub()

	b.Publish("run-1", model.WorkerResult{WorkItemID: "a"})

	select {
	case r, ok := <-ch:
		if ok {
			t.Errorf("received %q after unsubscribe", r.WorkItemID)
		}
	default:
	}
}

func TestBrokerDropsWhenBufferFull(t *testing.T) {
	b := NewResultBroker()

	ch, unsub := b.Subscribe("run-1")
	defer unsub()

	// Publish past the buffer; extra results drop instead of blocking.
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish("run-1", model.WorkerResult{WorkItemID: "a"})
	}

	if got := len(ch); got != subscriberBufferSize {
		t.Errorf("buffered %d results, want %d", got, subscriberBufferSize)
	}
}
