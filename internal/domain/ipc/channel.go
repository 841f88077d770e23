// Package ipc implements the message channel: synchronous rendezvous for
// raw data, coalescing bitmaps for notifications, interrupts and signals.
//
// A data send completes only when a receiver takes the message. A sender
// that finds no waiting receiver either polls (WouldBlock) or blocks on its
// scheduling gate until a receiver arrives, the timeout expires or the
// context is cancelled. Notifications, interrupts and signals never block:
// they set a bit in the destination's pending bitmap, and repeated posts of
// the same bit before a receive coalesce into one.
package ipc

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// Observer is told about deliveries and timeouts.
type Observer interface {
	Delivered(msg Message, to id.ProcessID)
	TimedOut(pid id.ProcessID)
}

type pending struct {
	bits   Bitmap
	sender id.ProcessID
	at     uint64
}

type mailbox struct {
	pid   id.ProcessID
	index int
	gate  *sched.Gate

	signals pending
	irqs    pending
	notes   pending

	// recv is this process's own blocked receive.
	recv *waiter
	// senders are processes blocked sending data to this one, oldest first.
	senders []*waiter
	// sending is this process's own blocked data send.
	sending *waiter
}

type phase uint8

const (
	phaseSend phase = iota
	phaseReceive
)

type waiter struct {
	owner *mailbox
	phase phase
	// gen counts phase changes; a timer only expires the phase it was
	// armed for.
	gen uint32

	target *mailbox
	msg    Message

	from   id.ProcessID
	filter Filter

	// reply makes the waiter switch to receiving from target once its
	// send has been taken.
	reply        bool
	recvBlocking bool
	result       Message
	st           status.Status
	finished     bool
	done         chan struct{}
	rearm        chan uint32
}

func (w *waiter) accepts(n Nature, sender id.ProcessID) bool {
	if !w.filter.Accepts(n) {
		return false
	}
	return n != NatureData || w.from == id.Any || w.from == sender
}

// Channel is the message channel shared by every process.
type Channel struct {
	mu       sync.Mutex
	boxes    map[id.ProcessID]*mailbox
	tick     time.Duration
	boot     time.Time
	now      func() time.Time
	observer Observer
}

// NewChannel creates a channel whose timeouts count ticks of the given
// length.
func NewChannel(tick time.Duration) *Channel {
	if tick <= 0 {
		tick = time.Millisecond
	}
	return &Channel{
		boxes: make(map[id.ProcessID]*mailbox),
		tick:  tick,
		boot:  time.Now(),
		now:   time.Now,
	}
}

// WithObserver sets the delivery observer.
func (c *Channel) WithObserver(o Observer) *Channel {
	c.observer = o
	return c
}

// Open creates the mailbox of a new process. index is the process's
// application index, used as its notification bit.
func (c *Channel) Open(pid id.ProcessID, index int, gate *sched.Gate) status.Status {
	if index < 0 || index >= BitmapBits {
		return status.ErrParam
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.boxes[pid]; ok {
		return status.ErrAlready
	}
	c.boxes[pid] = &mailbox{pid: pid, index: index, gate: gate}
	return status.OK
}

func (c *Channel) stamp() uint64 {
	return uint64(c.now().Sub(c.boot).Microseconds())
}

// SendData sends a raw data message and, in blocking mode, waits until the
// receiver takes it.
func (c *Channel) SendData(ctx context.Context, from, to id.ProcessID, label uint16, data []byte, mode Mode) status.Status {
	_, st := c.send(ctx, from, to, label, data, mode, false)
	return st
}

// SendReceive sends a raw data message to peer and then receives from it,
// with no window in which the peer's reply could be missed.
func (c *Channel) SendReceive(ctx context.Context, from, peer id.ProcessID, label uint16, data []byte, mode Mode) (Message, status.Status) {
	return c.send(ctx, from, peer, label, data, mode, true)
}

func (c *Channel) send(ctx context.Context, from, to id.ProcessID, label uint16, data []byte, mode Mode, reply bool) (Message, status.Status) {
	if len(data) > DataSize || !mode.valid() || from == to {
		return Message{}, status.ErrParam
	}
	c.mu.Lock()
	src, ok := c.boxes[from]
	if !ok {
		c.mu.Unlock()
		return Message{}, status.ErrTerminated
	}
	dst, ok := c.boxes[to]
	if !ok {
		c.mu.Unlock()
		return Message{}, status.ErrNotFound
	}
	msg := Message{
		Nature: NatureData,
		Label:  label,
		Sender: from,
		SentAt: c.stamp(),
		Data:   slices.Clone(data),
	}

	if w := dst.recv; w != nil && w.accepts(NatureData, from) {
		dst.recv = nil
		c.delivered(msg, to)
		c.finish(w, status.OK, msg)
		if !reply {
			c.mu.Unlock()
			return Message{}, status.OK
		}
		return c.receiveLocked(ctx, src, to, mode)
	}
	if !mode.SendBlocking {
		c.mu.Unlock()
		return Message{}, status.ErrWouldBlock
	}
	if err := src.gate.Block(sched.CauseIPC); err != nil {
		c.mu.Unlock()
		return Message{}, status.ErrStateInvalid
	}
	w := &waiter{
		owner:        src,
		phase:        phaseSend,
		target:       dst,
		msg:          msg,
		from:         to,
		filter:       mode.Filter,
		reply:        reply,
		recvBlocking: mode.ReceiveBlocking,
		done:         make(chan struct{}),
		rearm:        make(chan uint32, 1),
	}
	dst.senders = append(dst.senders, w)
	src.sending = w
	c.mu.Unlock()
	return c.wait(ctx, w, mode.Timeout)
}

// Receive takes the next message for pid. Signals come first, then
// interrupts, then notifications, then raw data. from restricts raw data to
// one sender; id.Any accepts every sender.
func (c *Channel) Receive(ctx context.Context, pid, from id.ProcessID, mode Mode) (Message, status.Status) {
	if !mode.valid() || from == pid {
		return Message{}, status.ErrParam
	}
	c.mu.Lock()
	box, ok := c.boxes[pid]
	if !ok {
		c.mu.Unlock()
		return Message{}, status.ErrTerminated
	}
	if from != id.Any {
		if _, ok := c.boxes[from]; !ok {
			c.mu.Unlock()
			return Message{}, status.ErrNotFound
		}
	}
	return c.receiveLocked(ctx, box, from, mode)
}

// receiveLocked is called with c.mu held and releases it.
func (c *Channel) receiveLocked(ctx context.Context, box *mailbox, from id.ProcessID, mode Mode) (Message, status.Status) {
	if msg, ok := c.take(box, from, mode.Filter); ok {
		c.mu.Unlock()
		return msg, status.OK
	}
	if !mode.ReceiveBlocking {
		c.mu.Unlock()
		return Message{}, status.ErrWouldBlock
	}
	if box.recv != nil {
		c.mu.Unlock()
		return Message{}, status.ErrStateInvalid
	}
	if err := box.gate.Block(sched.CauseIPC); err != nil {
		c.mu.Unlock()
		return Message{}, status.ErrStateInvalid
	}
	w := &waiter{
		owner:  box,
		phase:  phaseReceive,
		from:   from,
		filter: mode.Filter,
		done:   make(chan struct{}),
		rearm:  make(chan uint32, 1),
	}
	box.recv = w
	c.mu.Unlock()
	return c.wait(ctx, w, mode.Timeout)
}

// take removes the highest priority message the filter admits.
func (c *Channel) take(box *mailbox, from id.ProcessID, filter Filter) (Message, bool) {
	var msg Message
	switch {
	case !box.signals.bits.IsZero():
		msg = drain(&box.signals, NatureSignal)
	case filter&FilterIRQ != 0 && !box.irqs.bits.IsZero():
		msg = drain(&box.irqs, NatureIRQ)
	case filter&FilterNotification != 0 && !box.notes.bits.IsZero():
		msg = drain(&box.notes, NatureNotification)
	case filter&FilterData != 0:
		i := slices.IndexFunc(box.senders, func(s *waiter) bool {
			return from == id.Any || s.owner.pid == from
		})
		if i < 0 {
			return Message{}, false
		}
		s := box.senders[i]
		box.senders = slices.Delete(box.senders, i, i+1)
		msg = s.msg
		c.sent(s)
	default:
		return Message{}, false
	}
	c.delivered(msg, box.pid)
	return msg, true
}

func drain(p *pending, n Nature) Message {
	msg := Message{Nature: n, Sender: p.sender, SentAt: p.at, Bitmap: p.bits}
	*p = pending{}
	return msg
}

// sent completes the send phase of a waiter whose message was taken.
func (c *Channel) sent(s *waiter) {
	s.owner.sending = nil
	if !s.reply {
		c.finish(s, status.OK, Message{})
		return
	}
	s.phase = phaseReceive
	s.gen++
	if msg, ok := c.take(s.owner, s.from, s.filter); ok {
		c.finish(s, status.OK, msg)
		return
	}
	if !s.recvBlocking {
		c.finish(s, status.ErrWouldBlock, Message{})
		return
	}
	s.owner.recv = s
	select {
	case s.rearm <- s.gen:
	default:
	}
}

// kick hands pending bits to a waiting receiver that accepts them.
func (c *Channel) kick(box *mailbox) {
	w := box.recv
	if w == nil {
		return
	}
	if msg, ok := c.take(box, w.from, w.filter); ok {
		box.recv = nil
		c.finish(w, status.OK, msg)
	}
}

func (c *Channel) delivered(msg Message, to id.ProcessID) {
	if c.observer != nil {
		c.observer.Delivered(msg, to)
	}
}

// finish completes a waiter and wakes its gate. Called with c.mu held.
func (c *Channel) finish(w *waiter, st status.Status, msg Message) {
	if w.finished {
		return
	}
	w.finished = true
	w.result = msg
	w.st = st
	cause := sched.CauseIPC
	switch {
	case st == status.ErrTimeout:
		cause = sched.CauseTimer
	case st.IsError() && st != status.ErrWouldBlock:
		cause = sched.CauseAbort
	}
	// A halting process has no gate to wake.
	_ = w.owner.gate.Wake(cause)
	close(w.done)
}

// detach unlinks an unfinished waiter from the queues. Called with c.mu held.
func (c *Channel) detach(w *waiter) {
	switch w.phase {
	case phaseSend:
		w.target.senders = slices.DeleteFunc(w.target.senders, func(s *waiter) bool { return s == w })
		if w.owner.sending == w {
			w.owner.sending = nil
		}
	case phaseReceive:
		if w.owner.recv == w {
			w.owner.recv = nil
		}
	}
}

func (c *Channel) wait(ctx context.Context, w *waiter, ticks uint32) (Message, status.Status) {
	var (
		timer   *time.Timer
		expired <-chan time.Time
		armed   uint32
	)
	arm := func(gen uint32) {
		if ticks == 0 {
			return
		}
		if timer != nil {
			timer.Stop()
		}
		armed = gen
		timer = time.NewTimer(time.Duration(ticks) * c.tick)
		expired = timer.C
	}
	arm(0)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return w.result, w.st
		case gen := <-w.rearm:
			arm(gen)
		case <-expired:
			expired = nil
			if c.expire(w, armed) && c.observer != nil {
				c.observer.TimedOut(w.owner.pid)
			}
		case <-ctx.Done():
			c.cancel(w, status.ErrAborted)
		}
	}
}

func (c *Channel) cancel(w *waiter, st status.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked(w, st)
}

// expire times out w if it is still in phase gen. A timer armed for a send
// phase that has since completed is stale: the receive phase gets a full
// timeout of its own once the rearm is seen.
func (c *Channel) expire(w *waiter, gen uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.gen != gen {
		return false
	}
	return c.cancelLocked(w, status.ErrTimeout)
}

func (c *Channel) cancelLocked(w *waiter, st status.Status) bool {
	if w.finished {
		return false
	}
	c.detach(w)
	c.finish(w, st, Message{})
	return true
}

// SendNotification sets the sender's application index in the
// destination's notification bitmap.
func (c *Channel) SendNotification(from, to id.ProcessID) status.Status {
	if from == to {
		return status.ErrParam
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.boxes[from]
	if !ok {
		return status.ErrTerminated
	}
	dst, ok := c.boxes[to]
	if !ok {
		return status.ErrNotFound
	}
	c.post(dst, NatureNotification, src.index, from)
	return status.OK
}

// Post sets a bit in one of the destination's pending bitmaps. It is how
// the kernel delivers interrupts and signals.
func (c *Channel) Post(to id.ProcessID, n Nature, bit int, sender id.ProcessID) status.Status {
	if n == NatureData || bit < 0 || bit >= BitmapBits {
		return status.ErrParam
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	box, ok := c.boxes[to]
	if !ok {
		return status.ErrNotFound
	}
	c.post(box, n, bit, sender)
	return status.OK
}

func (c *Channel) post(box *mailbox, n Nature, bit int, sender id.ProcessID) {
	var p *pending
	switch n {
	case NatureSignal:
		p = &box.signals
	case NatureIRQ:
		p = &box.irqs
	default:
		p = &box.notes
	}
	p.bits.Set(bit)
	p.sender = sender
	p.at = c.stamp()
	c.kick(box)
}

// ProcessTerminated drops the mailbox of pid. Its own waits and every wait
// that depends on it fail with ErrTerminated. Undelivered data it sent is
// discarded; notifications it already posted stay pending.
func (c *Channel) ProcessTerminated(pid id.ProcessID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	box, ok := c.boxes[pid]
	if !ok {
		return
	}
	delete(c.boxes, pid)

	if w := box.recv; w != nil {
		box.recv = nil
		c.finish(w, status.ErrTerminated, Message{})
	}
	if w := box.sending; w != nil {
		c.detach(w)
		c.finish(w, status.ErrTerminated, Message{})
	}
	for _, s := range box.senders {
		s.owner.sending = nil
		c.finish(s, status.ErrTerminated, Message{})
	}
	box.senders = nil
	for _, other := range c.boxes {
		if w := other.recv; w != nil && w.from == pid {
			other.recv = nil
			c.finish(w, status.ErrTerminated, Message{})
		}
	}
}

// MailboxInfo describes the state of one mailbox.
type MailboxInfo struct {
	PID            id.ProcessID   `json:"pid"`
	Index          int            `json:"index"`
	Signals        []int          `json:"signals,omitempty"`
	IRQs           []int          `json:"irqs,omitempty"`
	Notifications  []int          `json:"notifications,omitempty"`
	Receiving      bool           `json:"receiving"`
	ReceiveFrom    id.ProcessID   `json:"receive_from,omitempty"`
	Sending        id.ProcessID   `json:"sending_to,omitempty"`
	BlockedSenders []id.ProcessID `json:"blocked_senders,omitempty"`
}

// Mailbox returns the state of pid's mailbox.
func (c *Channel) Mailbox(pid id.ProcessID) (MailboxInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	box, ok := c.boxes[pid]
	if !ok {
		return MailboxInfo{}, false
	}
	info := MailboxInfo{
		PID:           pid,
		Index:         box.index,
		Signals:       box.signals.bits.Bits(),
		IRQs:          box.irqs.bits.Bits(),
		Notifications: box.notes.bits.Bits(),
	}
	if w := box.recv; w != nil {
		info.Receiving = true
		info.ReceiveFrom = w.from
	}
	if w := box.sending; w != nil {
		info.Sending = w.target.pid
	}
	for _, s := range box.senders {
		info.BlockedSenders = append(info.BlockedSenders, s.owner.pid)
	}
	return info, true
}
