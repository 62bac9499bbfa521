package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBus serves queued samples and errors in order, then repeats the last sample.
type fakeBus struct {
	mu       sync.Mutex
	readyErr error
	results  []result
	last     []byte
	reads    int
}

type result struct {
	sample []byte
	err    error
}

func (b *fakeBus) Ready() error { return b.readyErr }

func (b *fakeBus) Read(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	if len(b.results) == 0 {
		copy(p, b.last)
		return nil
	}
	r := b.results[0]
	b.results = b.results[1:]
	if r.err != nil {
		return r.err
	}
	b.last = r.sample
	copy(p, r.sample)
	return nil
}

func (b *fakeBus) readCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

type fakeNotifier struct {
	mu     sync.Mutex
	values []int32
	err    error
}

func (n *fakeNotifier) SendPressure(v int32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.values = append(n.values, v)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.values)
}

func fastOpts() PollerOptions {
	return PollerOptions{Interval: time.Millisecond, RetryBackoff: time.Millisecond}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		sample []byte
		want   int32
	}{
		{"zero point", []byte{0x20, 0x00, 0xaa}, 0},
		{"positive magnitude", []byte{0x40, 0x00, 0x00}, -24576},
		{"below offset", []byte{0x00, 0x00, 0x00}, 24576},
		{"full scale", []byte{0xff, 0xff, 0x00}, (65535 - 8192) * -3},
		{"third byte ignored", []byte{0x40, 0x00, 0xff}, -24576},
		{"two bytes", []byte{0x20, 0x01}, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.sample)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode(% x) = %d, want %d", tt.sample, got, tt.want)
			}
		})
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	sample := []byte{0x31, 0x7c, 0x05}
	first, _ := Decode(sample)
	for i := 0; i < 100; i++ {
		if got, _ := Decode(sample); got != first {
			t.Fatalf("Decode() run %d = %d, want %d", i, got, first)
		}
	}
}

func TestDecodeShortSample(t *testing.T) {
	if _, err := Decode([]byte{0x20}); err == nil {
		t.Error("Decode() should reject a one-byte sample")
	}
}

func TestPollSendsDecodedValue(t *testing.T) {
	bus := &fakeBus{results: []result{{sample: []byte{0x40, 0x00, 0x00}}}}
	n := &fakeNotifier{}
	p := NewPoller(bus, n, nil, fastOpts())

	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(n.values) != 1 || n.values[0] != -24576 {
		t.Errorf("notified %v, want [-24576]", n.values)
	}
}

func TestPollRetriesOnceThenSucceeds(t *testing.T) {
	bus := &fakeBus{results: []result{
		{err: errors.New("nack")},
		{sample: []byte{0x20, 0x00, 0x00}},
	}}
	n := &fakeNotifier{}
	p := NewPoller(bus, n, nil, fastOpts())

	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if got := bus.readCount(); got != 2 {
		t.Errorf("reads = %d, want 2", got)
	}
	if n.count() != 1 {
		t.Errorf("notifications = %d, want 1 after successful retry", n.count())
	}
}

func TestPollSkipsCycleAfterFailedRetry(t *testing.T) {
	bus := &fakeBus{results: []result{
		{err: errors.New("nack")},
		{err: errors.New("nack again")},
	}}
	n := &fakeNotifier{}
	p := NewPoller(bus, n, nil, fastOpts())

	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v, transient errors should be swallowed", err)
	}
	if got := bus.readCount(); got != 2 {
		t.Errorf("reads = %d, want exactly one retry", got)
	}
	if n.count() != 0 {
		t.Errorf("notifications = %d, want 0 for a skipped cycle", n.count())
	}
}

func TestPollIgnoresNotifyFailure(t *testing.T) {
	bus := &fakeBus{results: []result{{sample: []byte{0x20, 0x00, 0x00}}}}
	n := &fakeNotifier{err: errors.New("link busy")}
	p := NewPoller(bus, n, nil, fastOpts())

	if err := p.Poll(context.Background()); err != nil {
		t.Errorf("Poll() error = %v, notify failures should not stop polling", err)
	}
}

func TestRunFailsFastWhenBusNotReady(t *testing.T) {
	bus := &fakeBus{readyErr: errors.New("no device")}
	n := &fakeNotifier{}
	p := NewPoller(bus, n, nil, fastOpts())

	err := p.Run(context.Background())
	if !errors.Is(err, ErrBusNotReady) {
		t.Fatalf("Run() error = %v, want ErrBusNotReady", err)
	}
	if bus.readCount() != 0 {
		t.Errorf("reads = %d, want 0 when the bus is absent", bus.readCount())
	}
}

func TestRunStopsWhenDeviceDisappears(t *testing.T) {
	bus := &fakeBus{results: []result{
		{sample: []byte{0x20, 0x00, 0x00}},
		{err: ErrBusNotReady},
	}}
	n := &fakeNotifier{}
	p := NewPoller(bus, n, nil, fastOpts())

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrBusNotReady) {
			t.Errorf("Run() error = %v, want ErrBusNotReady", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after the device disappeared")
	}
	if n.count() != 1 {
		t.Errorf("notifications = %d, want 1", n.count())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	bus := &fakeBus{last: []byte{0x20, 0x00, 0x00}}
	n := &fakeNotifier{}
	p := NewPoller(bus, n, nil, fastOpts())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for n.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("poller never produced readings")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
