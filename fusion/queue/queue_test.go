package queue

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/rotblauer/catfuse/types/sample"
)

func inertial(ts int64) sample.Sample {
	return sample.NewInertial(ts, sample.Inertial{East: float64(ts)})
}

func gnss(ts int64) sample.Sample {
	return sample.NewGNSS(ts, sample.GNSS{Latitude: 55.75, Longitude: 37.61, HorizontalAccuracy: 5})
}

func TestQueue_Ordering(t *testing.T) {
	q := New(0)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		ts := r.Int63n(10_000)
		if i%7 == 0 {
			q.Push(gnss(ts))
		} else {
			q.Push(inertial(ts))
		}
	}
	if q.Len() != 1000 {
		t.Fatalf("want 1000, got %d", q.Len())
	}
	last := int64(-1)
	n := 0
	for {
		s, ok := q.PopMin()
		if !ok {
			break
		}
		if s.Timestamp < last {
			t.Fatalf("pop %d: timestamp %d after %d", n, s.Timestamp, last)
		}
		last = s.Timestamp
		n++
	}
	if n != 1000 {
		t.Errorf("want 1000 pops, got %d", n)
	}
	if _, ok := q.PopMin(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueue_StableTies(t *testing.T) {
	q := New(0)
	q.Push(inertial(5))
	q.Push(gnss(5))
	q.Push(inertial(5))
	want := []sample.Kind{sample.KindInertial, sample.KindGNSS, sample.KindInertial}
	for i, k := range want {
		s, _ := q.PopMin()
		if s.Kind() != k {
			t.Errorf("pop %d: want %v, got %v", i, k, s.Kind())
		}
	}
}

func TestQueue_BoundedDropsOldestInertial(t *testing.T) {
	q := New(3)
	q.Push(gnss(1))
	q.Push(inertial(2))
	q.Push(inertial(3))
	q.Push(inertial(4)) // drops 2
	q.Push(gnss(0))     // drops 3

	st := q.Stats()
	if st.Dropped != 2 || st.Len != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}
	got := q.Drain()
	want := []int64{0, 1, 4}
	for i := range want {
		if got[i].Timestamp != want[i] {
			t.Errorf("pop %d: want %d, got %d", i, want[i], got[i].Timestamp)
		}
	}

	// GNSS is kept even over capacity.
	q = New(1)
	q.Push(gnss(1))
	q.Push(gnss(2))
	if q.Len() != 2 {
		t.Errorf("gnss samples must never be dropped, len=%d", q.Len())
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New(0)
	var wg sync.WaitGroup
	producers, each := 8, 500
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Push(inertial(int64(i*producers + p)))
			}
		}(p)
	}

	// Consume concurrently; every pop sequence taken while producers
	// are running must still be ordered for the samples present.
	done := make(chan struct{})
	popped := 0
	go func() {
		defer close(done)
		for popped < producers*each/2 {
			if _, ok := q.PopMin(); ok {
				popped++
			}
		}
	}()
	wg.Wait()
	<-done

	rest := q.Drain()
	if popped+len(rest) != producers*each {
		t.Fatalf("lost samples: popped %d + drained %d != %d", popped, len(rest), producers*each)
	}
	for i := 1; i < len(rest); i++ {
		if rest[i].Timestamp < rest[i-1].Timestamp {
			t.Fatalf("drain out of order at %d", i)
		}
	}
	st := q.Stats()
	if st.Pushed != uint64(producers*each) || st.Popped != uint64(producers*each) {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestQueue_BoundedGNSSOutage(t *testing.T) {
	const capacity, n = 64, 10_000
	q := New(capacity)
	q.Push(gnss(0))
	for i := 1; i <= n; i++ {
		q.Push(inertial(int64(i)))
	}
	q.Push(gnss(n + 1))

	st := q.Stats()
	if st.Len != capacity {
		t.Fatalf("want len %d, got %+v", capacity, st)
	}
	if want := uint64(n + 2 - capacity); st.Dropped != want {
		t.Fatalf("want %d dropped, got %d", want, st.Dropped)
	}
	got := q.Drain()
	if got[0].Kind() != sample.KindGNSS || got[0].Timestamp != 0 {
		t.Fatalf("first sample should be the opening fix, got %+v", got[0])
	}
	if last := got[len(got)-1]; last.Kind() != sample.KindGNSS || last.Timestamp != n+1 {
		t.Fatalf("last sample should be the closing fix, got %+v", last)
	}
	// Survivors are the newest inertial samples, in order.
	for i, s := range got[1 : len(got)-1] {
		if want := int64(n - capacity + 3 + i); s.Timestamp != want {
			t.Fatalf("inertial %d: want ts %d, got %d", i, want, s.Timestamp)
		}
	}
}
