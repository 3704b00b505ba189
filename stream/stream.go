// Package stream models the bounded packet-stream FIFO this pipeline
// assumes as an external, already-available collaborator: a
// packet-granular buffer with try-lock opens and DMA-style in-place
// write regions, shared by exactly one producer and drained by one or
// more readers (info runs its own read loop over its own Buffer
// instance; demo.Session reads one Buffer, feeds tracker and copies
// packets onto sink Buffers, matching the pipeline's one-way fan-out).
//
// This in-process channel-based implementation stands in for the
// third-party bounded FIFO the producer stages assume is already
// available — callers only depend on the Buffer/Reservation contract,
// not on any specific backing implementation.
package stream

import (
	"errors"
	"sync"

	"github.com/lano1100/glcapture/glcmsg"
)

var (
	// ErrBusy is returned by a try-open that found the buffer full.
	ErrBusy = errors.New("stream: buffer full")
	// ErrCancelled is returned to every blocked or future caller once
	// Cancel has been invoked on a Buffer.
	ErrCancelled = errors.New("stream: cancelled")
)

// Packet is one message on the bus: a tagged header plus its payload.
type Packet struct {
	Header glcmsg.Header
	Data   []byte
}

// Buffer is a bounded, single-producer FIFO of Packets.
type Buffer struct {
	sem      chan struct{}
	packets  chan *Packet
	cancelCh chan struct{}

	mu        sync.Mutex
	cancelled bool
}

// NewBuffer creates a buffer that holds at most depth packets
// in flight (reserved-but-not-yet-read) at once.
func NewBuffer(depth int) *Buffer {
	if depth < 1 {
		depth = 1
	}
	return &Buffer{
		sem:      make(chan struct{}, depth),
		packets:  make(chan *Packet, depth),
		cancelCh: make(chan struct{}),
	}
}

// Reservation is an in-place write region opened against a Buffer.
// Exactly one of Close or Cancel must be called on it.
type Reservation struct {
	buf    *Buffer
	header glcmsg.Header
	data   []byte
	closed bool
}

// Open reserves room for a size-byte payload. If try is set, Open
// returns ErrBusy immediately rather than blocking when the buffer is
// full — this is the capture hot path's "drop the frame rather than
// stall the host" behavior. A non-try Open blocks until capacity is
// available or the buffer is cancelled.
func (b *Buffer) Open(header glcmsg.Header, size int, try bool) (*Reservation, error) {
	if b.isCancelled() {
		return nil, ErrCancelled
	}

	if try {
		select {
		case b.sem <- struct{}{}:
		default:
			return nil, ErrBusy
		}
	} else {
		select {
		case b.sem <- struct{}{}:
		case <-b.cancelCh:
			return nil, ErrCancelled
		}
	}

	return &Reservation{buf: b, header: header, data: make([]byte, size)}, nil
}

// Bytes returns the reserved write region. Writing in place here is
// the DMA-style path: the caller (e.g. the GL pixel readback) fills
// pixels directly into the packet's backing array with no extra copy.
func (r *Reservation) Bytes() []byte {
	return r.data
}

// Close publishes the reservation's contents as a packet.
func (r *Reservation) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	select {
	case r.buf.packets <- &Packet{Header: r.header, Data: r.data}:
		return nil
	case <-r.buf.cancelCh:
		<-r.buf.sem
		return ErrCancelled
	}
}

// Cancel discards the reservation without publishing it, releasing
// its slot back to the buffer.
func (r *Reservation) Cancel() {
	if r.closed {
		return
	}
	r.closed = true
	select {
	case <-r.buf.sem:
	default:
	}
}

// Write is the non-DMA convenience path for small control messages
// (VIDEO_FORMAT, COLOR): open, copy payload, close, in one call.
func (b *Buffer) Write(header glcmsg.Header, payload []byte, try bool) error {
	res, err := b.Open(header, len(payload), try)
	if err != nil {
		return err
	}
	copy(res.Bytes(), payload)
	return res.Close()
}

// Read blocks for the next packet, returning ErrCancelled once the
// buffer has been cancelled and drained.
func (b *Buffer) Read() (*Packet, error) {
	select {
	case p := <-b.packets:
		<-b.sem
		return p, nil
	case <-b.cancelCh:
		select {
		case p := <-b.packets:
			<-b.sem
			return p, nil
		default:
			return nil, ErrCancelled
		}
	}
}

// Cancel wakes every blocked Open and Read with ErrCancelled. Safe to
// call more than once and from any goroutine.
func (b *Buffer) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return
	}
	b.cancelled = true
	close(b.cancelCh)
}

func (b *Buffer) isCancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}
