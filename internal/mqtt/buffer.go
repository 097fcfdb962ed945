package mqtt

// pendingMsg is a serialized event held for replay after reconnection.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO of events published while disconnected.
// When full the oldest event is overwritten. Not safe for concurrent use.
type outbox struct {
	buf      []pendingMsg
	capacity int
	head     int // next write position
	count    int
	dropped  int // overwritten since last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		buf:      make([]pendingMsg, capacity),
		capacity: capacity,
	}
}

// push queues msg and reports whether an older message was overwritten.
func (o *outbox) push(msg pendingMsg) bool {
	o.buf[o.head] = msg
	o.head = (o.head + 1) % o.capacity
	if o.count == o.capacity {
		o.dropped++
		return true
	}
	o.count++
	return false
}

// drain returns queued messages oldest first and empties the outbox.
func (o *outbox) drain() (msgs []pendingMsg, dropped int) {
	if o.count == 0 {
		d := o.dropped
		o.dropped = 0
		return nil, d
	}

	msgs = make([]pendingMsg, o.count)
	start := (o.head - o.count + o.capacity) % o.capacity
	for i := 0; i < o.count; i++ {
		msgs[i] = o.buf[(start+i)%o.capacity]
	}

	dropped = o.dropped
	o.count = 0
	o.head = 0
	o.dropped = 0
	return msgs, dropped
}

func (o *outbox) len() int {
	return o.count
}
