package mqtt

import "github.com/golang/glog"

// pending is a serialized message waiting for the broker.
type pending struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages produced while the broker is unreachable.
// When full, the oldest QoS 0 decision is evicted first so lifecycle
// events survive a long outage. Callers synchronize access.
type outbox struct {
	items   []pending
	limit   int
	dropped int
	warned  bool
}

func newOutbox(limit int) *outbox {
	if limit < 1 {
		limit = 1
	}
	return &outbox{items: make([]pending, 0, limit), limit: limit}
}

func (o *outbox) add(msg pending) {
	if len(o.items) == o.limit {
		o.evict()
	}
	o.items = append(o.items, msg)
}

func (o *outbox) evict() {
	victim := 0
	for i, m := range o.items {
		if m.qos == 0 {
			victim = i
			break
		}
	}
	o.items = append(o.items[:victim], o.items[victim+1:]...)
	o.dropped++
	if !o.warned {
		glog.Warningf("mqtt: outbox full (%d messages), dropping oldest", o.limit)
		o.warned = true
	}
}

// take removes and returns everything queued, oldest first.
func (o *outbox) take() []pending {
	if len(o.items) == 0 {
		return nil
	}
	out := o.items
	o.items = make([]pending, 0, o.limit)
	o.warned = false
	return out
}

func (o *outbox) size() int {
	return len(o.items)
}
