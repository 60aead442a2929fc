package chatter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keydance/internal/keycode"
	"keydance/internal/tick"
)

type collect struct{ recs []Record }

func (c *collect) Emit(r Record) { c.recs = append(c.recs, r) }

func alternate(k keycode.KeyID, start tick.Tick, gap tick.Duration, n int) []keycode.Event {
	evs := make([]keycode.Event, n)
	at := start
	for i := range evs {
		evs[i] = keycode.Event{Key: k, Pressed: i%2 == 0, Time: at}
		at += tick.Tick(gap)
	}
	return evs
}

func TestBurstYieldsOneRecord(t *testing.T) {
	sink := &collect{}
	w := New(Config{Threshold: DefaultThreshold}, sink)

	for _, ev := range alternate(keycode.A, 1000, 5, 6) {
		w.Observe(ev)
	}

	require.Len(t, sink.recs, 1)
	rec := sink.recs[0]
	assert.Equal(t, keycode.A, rec.Key)
	assert.False(t, rec.Pressed, "fourth event is a release")
	assert.Equal(t, []tick.Duration{5, 5, 5}, rec.Deltas)
}

func TestLongBurstYieldsOneRecord(t *testing.T) {
	sink := &collect{}
	w := New(Config{Threshold: DefaultThreshold}, sink)

	for _, ev := range alternate(keycode.A, 0, 3, 40) {
		w.Observe(ev)
	}
	require.Len(t, sink.recs, 1)
	assert.Equal(t, []tick.Duration{3, 3, 3}, sink.recs[0].Deltas)
}

func TestSlowDeltaEndsBurst(t *testing.T) {
	sink := &collect{}
	w := New(Config{Threshold: DefaultThreshold}, sink)

	for _, ev := range alternate(keycode.A, 0, 2, 6) {
		w.Observe(ev)
	}
	// 500 ticks later the switch bounces again.
	for _, ev := range alternate(keycode.A, 510, 2, 6) {
		w.Observe(ev)
	}
	assert.Len(t, sink.recs, 2)
}

func TestHumanTypingIsQuiet(t *testing.T) {
	sink := &collect{}
	w := New(Config{Threshold: DefaultThreshold}, sink)

	for _, ev := range alternate(keycode.A, 0, 80, 20) {
		w.Observe(ev)
	}
	assert.Empty(t, sink.recs)
}

func TestOneSlowDeltaSuppresses(t *testing.T) {
	sink := &collect{}
	w := New(Config{Threshold: 20}, sink)

	w.Observe(keycode.Press(keycode.A, 0))
	w.Observe(keycode.Release(keycode.A, 5))
	w.Observe(keycode.Press(keycode.A, 25))
	_, ok := w.Observe(keycode.Release(keycode.A, 30))
	assert.False(t, ok, "delta of exactly the threshold is not chatter")
	assert.Empty(t, sink.recs)
}

func TestKeyChangeResetsRing(t *testing.T) {
	sink := &collect{}
	w := New(Config{Threshold: DefaultThreshold}, sink)

	w.Observe(keycode.Press(keycode.A, 0))
	w.Observe(keycode.Release(keycode.A, 2))
	w.Observe(keycode.Press(keycode.A, 4))
	w.Observe(keycode.Press(keycode.Space, 6))
	assert.Equal(t, 1, w.Len())
	w.Observe(keycode.Release(keycode.A, 8))
	assert.Equal(t, 1, w.Len())
	assert.Empty(t, sink.recs)
}

func TestDeltasAcrossWrap(t *testing.T) {
	sink := &collect{}
	w := New(Config{Threshold: DefaultThreshold}, sink)

	for _, ev := range alternate(keycode.A, 65530, 3, 4) {
		w.Observe(ev)
	}
	require.Len(t, sink.recs, 1)
	assert.Equal(t, []tick.Duration{3, 3, 3}, sink.recs[0].Deltas)
}

func TestVerboseTracesEveryEvent(t *testing.T) {
	sink := &collect{}
	w := New(Config{Threshold: DefaultThreshold, Verbose: true}, sink)

	for _, ev := range alternate(keycode.A, 0, 100, 5) {
		w.Observe(ev)
	}

	require.Len(t, sink.recs, 3)
	assert.Len(t, sink.recs[0].Deltas, 2)
	assert.Len(t, sink.recs[1].Deltas, 3)
	assert.Len(t, sink.recs[2].Deltas, 3)
}

func TestNilSink(t *testing.T) {
	w := New(Config{Threshold: DefaultThreshold}, nil)
	var hits int
	for _, ev := range alternate(keycode.A, 0, 1, 4) {
		if _, ok := w.Observe(ev); ok {
			hits++
		}
	}
	assert.Equal(t, 1, hits)
}

func TestSetConfigKeepsRing(t *testing.T) {
	w := New(Config{Threshold: 1}, nil)
	w.Observe(keycode.Press(keycode.A, 0))
	w.Observe(keycode.Release(keycode.A, 5))
	w.SetConfig(Config{Threshold: 50})
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, tick.Duration(50), w.Config().Threshold)

	w.Reset()
	assert.Equal(t, 0, w.Len())
}

func TestChanSinkDropsWhenFull(t *testing.T) {
	s := NewChanSink(1)
	s.Emit(Record{Key: keycode.A})
	s.Emit(Record{Key: keycode.Space})

	assert.Equal(t, uint64(1), s.Dropped())
	got := <-s.C()
	assert.Equal(t, keycode.A, got.Key)
	s.Close()
	_, open := <-s.C()
	assert.False(t, open)
}

func TestMulti(t *testing.T) {
	a, b := &collect{}, &collect{}
	var fn int
	m := Multi{a, b, SinkFunc(func(Record) { fn++ })}
	m.Emit(Record{Key: keycode.A})

	assert.Len(t, a.recs, 1)
	assert.Len(t, b.recs, 1)
	assert.Equal(t, 1, fn)
}

func TestRecordString(t *testing.T) {
	r := Record{Key: keycode.A, Pressed: true, Deltas: []tick.Duration{1, 2, 3}}
	assert.Equal(t, "KEY_A down deltas=[1 2 3]", r.String())
}
