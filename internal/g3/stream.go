package g3

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oculab/gazecap/internal/monitoring"
	"github.com/oculab/gazecap/internal/sample"
)

// streamBuffer bounds the in-flight samples between the socket reader and
// the routing loop. At the device's worst case (~150 samples/s combined)
// this is a couple of seconds of headroom.
const streamBuffer = 512

// wsStream is the Stream produced by Client.StartStream.
type wsStream struct {
	c      *Client
	ch     chan sample.Sample
	subIDs []int64

	stopOnce sync.Once
	stopped  chan struct{}

	faultOnce sync.Once
	faulted   chan struct{}
	fault     error

	dropped atomic.Int64
}

func newWSStream(c *Client) *wsStream {
	return &wsStream{
		c:       c,
		ch:      make(chan sample.Sample, streamBuffer),
		stopped: make(chan struct{}),
		faulted: make(chan struct{}),
	}
}

// push hands a sample to the consumer. The socket reader must never block on
// a slow consumer, so when the buffer is full the oldest buffered sample is
// discarded in favour of the new one.
func (s *wsStream) push(smp sample.Sample) {
	select {
	case <-s.stopped:
		return
	default:
	}

	select {
	case s.ch <- smp:
		return
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- smp:
	default:
	}
	if n := s.dropped.Add(1); n == 1 || n%1000 == 0 {
		monitoring.Logf("g3: consumer lagging, %d samples dropped", n)
	}
}

// Next yields the next sample in arrival order.
func (s *wsStream) Next(ctx context.Context) (sample.Sample, error) {
	// Stop wins over buffered samples: once Stop has returned, nothing
	// further is delivered.
	select {
	case <-s.stopped:
		return sample.Sample{}, ErrStreamClosed
	default:
	}

	select {
	case <-s.stopped:
		return sample.Sample{}, ErrStreamClosed
	case <-s.faulted:
		return sample.Sample{}, &StreamFault{Err: s.fault}
	case smp := <-s.ch:
		select {
		case <-s.stopped:
			return sample.Sample{}, ErrStreamClosed
		default:
		}
		return smp, nil
	case <-ctx.Done():
		return sample.Sample{}, ctx.Err()
	}
}

// Stop terminates the sequence, releases the signal subscriptions and stops
// the device streams. Idempotent and safe from any goroutine.
func (s *wsStream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.c.unsubscribeAll(s)
		if n := s.dropped.Load(); n > 0 {
			monitoring.Logf("g3: stream stopped, %d samples were dropped by a lagging consumer", n)
		} else {
			monitoring.Logf("g3: stream stopped")
		}
	})
	return nil
}

// setFault records a transport failure. The consumer observes it on the next
// Next call unless the stream was already stopped.
func (s *wsStream) setFault(err error) {
	s.faultOnce.Do(func() {
		s.fault = err
		close(s.faulted)
	})
}

func (s *wsStream) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// parseSignalSample turns one signal event into a tagged sample.
func parseSignalSample(kind sample.Kind, ev signalEvent, localTS float64) (sample.Sample, error) {
	switch kind {
	case sample.KindGaze:
		return sample.ParseGaze(ev.DeviceTS, localTS, ev.Payload)
	case sample.KindIMU:
		return sample.ParseIMU(ev.DeviceTS, localTS, ev.Payload)
	case sample.KindEvent, sample.KindSync:
		return sample.Sample{
			Kind:     kind,
			Raw:      append([]byte(nil), ev.Payload...),
			DeviceTS: ev.DeviceTS,
			LocalTS:  localTS,
		}, nil
	default:
		return sample.Sample{}, fmt.Errorf("unknown signal kind %q", kind)
	}
}
