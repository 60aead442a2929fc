package chatter

import "sync/atomic"

// Sink receives chatter records. Emit must not block the caller.
type Sink interface {
	Emit(Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Record)

func (f SinkFunc) Emit(r Record) { f(r) }

// Multi fans a record out to every sink in order.
type Multi []Sink

func (m Multi) Emit(r Record) {
	for _, s := range m {
		s.Emit(r)
	}
}

// ChanSink buffers records on a channel and drops them when it is full.
type ChanSink struct {
	ch      chan Record
	dropped atomic.Uint64
}

// NewChanSink returns a ChanSink buffering up to size records.
func NewChanSink(size int) *ChanSink {
	return &ChanSink{ch: make(chan Record, size)}
}

func (c *ChanSink) Emit(r Record) {
	select {
	case c.ch <- r:
	default:
		c.dropped.Add(1)
	}
}

// C returns the receive side of the buffer.
func (c *ChanSink) C() <-chan Record {
	return c.ch
}

// Dropped returns the number of records discarded because the buffer was full.
func (c *ChanSink) Dropped() uint64 {
	return c.dropped.Load()
}

// Close closes the buffer. Emit must not be called afterwards.
func (c *ChanSink) Close() {
	close(c.ch)
}
