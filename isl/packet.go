package isl

import "time"

// Tag carries the addressing of a queued packet. For broadcast copies
// SilentDst names the concrete peer the copy is sent to while Dst stays the
// broadcast address.
type Tag struct {
	Src       Address
	Dst       Address
	Proto     uint16
	SilentDst Address
}

// Peer returns the device a packet with this tag is physically sent to.
func (t Tag) Peer() Address {
	if t.Dst.IsBroadcast() {
		return t.SilentDst
	}
	return t.Dst
}

// Packet is an opaque payload plus its tag. When Payload is nil, Size gives
// the length of a synthetic payload.
type Packet struct {
	ID      uint64
	Payload []byte
	Size    int
	Tag     Tag

	// Flow and Seq identify traffic generated by a flow, SentAt its
	// creation time.
	Flow   string
	Seq    uint64
	SentAt time.Time
}

// NewPacket returns a synthetic packet of the given size.
func NewPacket(size int) *Packet { return &Packet{Size: size} }

// Len returns the packet size in bytes.
func (p *Packet) Len() int {
	if p.Payload != nil {
		return len(p.Payload)
	}
	return p.Size
}

// Copy returns a packet sharing the payload bytes but with its own tag.
func (p *Packet) Copy() *Packet {
	cp := *p
	return &cp
}

// DropTail is a FIFO packet queue that refuses packets once full.
type DropTail struct {
	limit   int
	packets []*Packet
}

// DefaultQueueSize matches the usual 100-packet drop-tail default.
const DefaultQueueSize = 100

// NewDropTail returns a queue holding at most limit packets; limit <= 0
// means DefaultQueueSize.
func NewDropTail(limit int) *DropTail {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	return &DropTail{limit: limit}
}

// Enqueue appends p and reports whether it fit.
func (q *DropTail) Enqueue(p *Packet) bool {
	if len(q.packets) >= q.limit {
		return false
	}
	q.packets = append(q.packets, p)
	return true
}

// Peek returns the head packet without removing it.
func (q *DropTail) Peek() *Packet {
	if len(q.packets) == 0 {
		return nil
	}
	return q.packets[0]
}

func (q *DropTail) Dequeue() *Packet {
	if len(q.packets) == 0 {
		return nil
	}
	p := q.packets[0]
	q.packets[0] = nil
	q.packets = q.packets[1:]
	return p
}

func (q *DropTail) Len() int   { return len(q.packets) }
func (q *DropTail) Limit() int { return q.limit }

// Clear drops every queued packet and returns how many there were.
func (q *DropTail) Clear() int {
	n := len(q.packets)
	q.packets = nil
	return n
}
