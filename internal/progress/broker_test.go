package progress_test

import (
	"testing"

	"github.com/seantiz/beamlab/internal/model"
	"github.com/seantiz/beamlab/internal/progress"
)

func ev(pct int) model.AnalysisProgress {
	return model.AnalysisProgress{Stage: model.StageSolving, Progress: pct}
}

func TestBrokerSingleSubscriber(t *testing.T) {
	b := progress.NewBroker(0)
	b.Open("r1")
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	want := []int{5, 40, 100}
	for _, p := range want {
		b.Publish("r1", ev(p))
	}
	b.Close("r1")

	var got []int
	for p := range ch {
		got = append(got, p.Progress)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := progress.NewBroker(0)
	b.Open("r1")
	ch1, unsub1 := b.Subscribe("r1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("r1")
	defer unsub2()

	b.Publish("r1", ev(50))
	b.Close("r1")

	var got1, got2 []int
	for p := range ch1 {
		got1 = append(got1, p.Progress)
	}
	for p := range ch2 {
		got2 = append(got2, p.Progress)
	}

	if len(got1) != 1 || got1[0] != 50 {
		t.Errorf("subscriber 1 got %v, want [50]", got1)
	}
	if len(got2) != 1 || got2[0] != 50 {
		t.Errorf("subscriber 2 got %v, want [50]", got2)
	}
}

func TestBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := progress.NewBroker(0)
	b.Open("r1")
	b.Publish("r1", ev(5))
	b.Close("r1")

	ch, unsub := b.Subscribe("r1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := progress.NewBroker(0)
	b.Open("r1")
	ch, unsub := b.Subscribe("r1")
	unsub()

	b.Publish("r1", ev(10))
	b.Close("r1")

	select {
	case p, ok := <-ch:
		if ok {
			t.Errorf("got unexpected event %+v after unsubscribe", p)
		}
	default:
	}
}

func TestBrokerRunsAreIsolated(t *testing.T) {
	b := progress.NewBroker(0)
	b.Open("r1")
	b.Open("r2")
	ch1, unsub1 := b.Subscribe("r1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("r2")
	defer unsub2()

	b.Publish("r1", ev(10))
	b.Close("r1")
	b.Close("r2")

	n := 0
	for range ch1 {
		n++
	}
	if n != 1 {
		t.Errorf("r1 subscriber got %d events, want 1", n)
	}
	for p := range ch2 {
		t.Errorf("r2 subscriber got event %+v from another run", p)
	}
}

func TestBrokerPublishToUnknownRunIsNoop(t *testing.T) {
	b := progress.NewBroker(0)
	b.Publish("nonexistent", ev(1))
	b.Close("nonexistent")
}

func TestBrokerUnopenedRunGetsClosed(t *testing.T) {
	b := progress.NewBroker(0)

	ch, unsub := b.Subscribe("never-opened")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("subscriber to an unopened run should get a closed channel")
	}
	if b.Len() != 0 {
		t.Errorf("Subscribe created a topic: Len = %d", b.Len())
	}
}

func TestBrokerMidRunSubscriberGetsLatest(t *testing.T) {
	b := progress.NewBroker(0)
	b.Open("r1")
	b.Publish("r1", ev(15))
	b.Publish("r1", ev(40))

	ch, unsub := b.Subscribe("r1")
	defer unsub()
	b.Publish("r1", ev(50))
	b.Close("r1")

	var got []int
	for p := range ch {
		got = append(got, p.Progress)
	}
	if len(got) != 2 || got[0] != 40 || got[1] != 50 {
		t.Errorf("got %v, want [40 50]", got)
	}
}
