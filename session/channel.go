package session

import "sync"

// Sink is one connected client transport. Send delivers a single event
// frame; an error marks the transport as broken.
type Sink interface {
	Send(event Event) error
}

// ProgressChannel is the session-scoped duplex progress feed. Sends are
// serialized by a channel lock so concurrent publishers never interleave
// frames; sends while no client is attached are silent no-ops. A bounded
// buffer retains recent events so a reconnecting client can be replayed
// everything past its last acknowledged sequence number.
type ProgressChannel struct {
	mu     sync.Mutex
	sink   Sink
	seq    uint64
	acked  uint64
	buffer []Event
	limit  int
}

// ProgressChannelOptions configures a ProgressChannel.
type ProgressChannelOptions struct {
	// BufferLimit bounds the replay buffer. Older events are dropped
	// first once it is exceeded.
	BufferLimit int
}

// NewProgressChannel constructs a channel with no client attached.
func NewProgressChannel(optFns ...func(o *ProgressChannelOptions)) *ProgressChannel {
	opts := ProgressChannelOptions{
		BufferLimit: 256,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ProgressChannel{limit: opts.BufferLimit}
}

// Publish stamps the event with the next sequence number, buffers it, and
// delivers it to the attached client if any. A failed or absent client never
// surfaces an error; the event stays buffered for replay.
func (c *ProgressChannel) Publish(event Event) Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	event.Seq = c.seq

	c.buffer = append(c.buffer, event)
	if len(c.buffer) > c.limit {
		c.buffer = c.buffer[len(c.buffer)-c.limit:]
	}

	if c.sink != nil {
		if err := c.sink.Send(event); err != nil {
			c.sink = nil
		}
	}
	return event
}

// Attach connects a client transport, replacing any previous one.
func (c *ProgressChannel) Attach(sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// Detach disconnects the given client. It is a no-op when another sink has
// been attached in the meantime, so a stale connection's teardown can never
// disconnect a client that reconnected first. Publishing continues into the
// buffer while no client is attached.
func (c *ProgressChannel) Detach(sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == sink {
		c.sink = nil
	}
}

// Connected reports whether a client transport is attached.
func (c *ProgressChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink != nil
}

// Ack records the highest sequence number the client has confirmed. Acks
// never move backwards.
func (c *ProgressChannel) Ack(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.acked {
		c.acked = seq
	}
}

// Replay re-delivers every buffered event past the acknowledged cursor, in
// order, to the attached client. It does not advance the cursor, so calling
// it twice replays the identical set; with no client attached it is a no-op.
func (c *ProgressChannel) Replay() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink == nil {
		return
	}
	for _, event := range c.buffer {
		if event.Seq <= c.acked {
			continue
		}
		if err := c.sink.Send(event); err != nil {
			c.sink = nil
			return
		}
	}
}

// Pending returns a copy of the unacknowledged buffered events.
func (c *ProgressChannel) Pending() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []Event
	for _, event := range c.buffer {
		if event.Seq > c.acked {
			pending = append(pending, event)
		}
	}
	return pending
}
