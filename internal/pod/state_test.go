package pod

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
)

var testLimits = PulseLimits{Min: 1_000_000, Max: 2_000_000}

func mustNewState(t *testing.T) *State {
	t.Helper()
	s, err := NewState(testLimits)
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	return s
}

func TestNewStateRejectsInvertedLimits(t *testing.T) {
	if _, err := NewState(PulseLimits{Min: 10, Max: 5}); err == nil {
		t.Error("NewState() with min > max should fail")
	}
}

func TestNewStateStartsAtMinPulse(t *testing.T) {
	s := mustNewState(t)
	if got := s.PulseWidth(); got != testLimits.Min {
		t.Errorf("PulseWidth() = %d, want %d", got, testLimits.Min)
	}
}

func TestConnectStartsUnsubscribed(t *testing.T) {
	s := mustNewState(t)
	cs := s.Connect("AA:BB")
	if cs.Subscribed {
		t.Error("new connection should not be subscribed")
	}
	if cs.Session.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("new connection should carry a session id")
	}
	if _, ok := s.NotifyTarget(); ok {
		t.Error("NotifyTarget() should be empty before a CCC write")
	}
}

func TestSetSubscribedWithoutConnection(t *testing.T) {
	s := mustNewState(t)
	if _, ok := s.SetSubscribed(true); ok {
		t.Error("SetSubscribed() without a connection should report false")
	}
	if _, ok := s.NotifyTarget(); ok {
		t.Error("NotifyTarget() should be empty without a connection")
	}
}

func TestDisconnectResetsSubscription(t *testing.T) {
	s := mustNewState(t)
	s.Connect("AA:BB")
	s.SetSubscribed(true)

	h, ok := s.NotifyTarget()
	if !ok || h != "AA:BB" {
		t.Fatalf("NotifyTarget() = %q, %v; want AA:BB, true", h, ok)
	}

	cs, ok := s.Disconnect("AA:BB")
	if !ok {
		t.Fatal("Disconnect() should find the connection")
	}
	if !cs.Subscribed {
		t.Error("Disconnect() should return the state as it was before teardown")
	}
	if _, ok := s.NotifyTarget(); ok {
		t.Error("NotifyTarget() should be empty after disconnect")
	}
	if _, ok := s.Connection(); ok {
		t.Error("Connection() should be empty after disconnect")
	}
}

func TestDisconnectUnknownHandle(t *testing.T) {
	s := mustNewState(t)
	s.Connect("AA:BB")
	s.SetSubscribed(true)

	if _, ok := s.Disconnect("CC:DD"); ok {
		t.Error("Disconnect() of a foreign handle should report false")
	}
	if _, ok := s.NotifyTarget(); !ok {
		t.Error("foreign disconnect must not clear the live subscription")
	}
}

func TestReconnectStartsFresh(t *testing.T) {
	s := mustNewState(t)
	first := s.Connect("AA:BB")
	s.SetSubscribed(true)
	s.Disconnect("AA:BB")

	second := s.Connect("AA:BB")
	if second.Subscribed {
		t.Error("reconnect should not inherit the old subscription")
	}
	if second.Session == first.Session {
		t.Error("reconnect should get a new session id")
	}
}

func TestSetPulseWidthBounds(t *testing.T) {
	tests := []struct {
		name    string
		width   uint32
		wantErr bool
	}{
		{"min", testLimits.Min, false},
		{"max", testLimits.Max, false},
		{"middle", 1_500_000, false},
		{"below min", testLimits.Min - 1, true},
		{"above max", testLimits.Max + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustNewState(t)
			before := s.PulseWidth()
			err := s.SetPulseWidth(tt.width)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetPulseWidth(%d) error = %v, wantErr %v", tt.width, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrPulseOutOfRange) {
					t.Errorf("error = %v, want ErrPulseOutOfRange", err)
				}
				if got := s.PulseWidth(); got != before {
					t.Errorf("rejected write changed PulseWidth() to %d, want %d", got, before)
				}
				return
			}
			if got := s.PulseWidth(); got != tt.width {
				t.Errorf("PulseWidth() = %d, want %d", got, tt.width)
			}
		})
	}
}

func TestConcurrentPulseWidthStress(t *testing.T) {
	s := mustNewState(t)
	const (
		writers    = 4
		readers    = 4
		iterations = 5000
	)

	var wg sync.WaitGroup
	errs := make(chan uint32, readers)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < iterations; i++ {
				// Mix valid and invalid widths; invalid ones must be rejected.
				w := testLimits.Min - 500_000 + uint32(rng.Intn(2_000_000))
				_ = s.SetPulseWidth(w)
			}
		}(int64(w))
	}

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				if got := s.PulseWidth(); !testLimits.Contains(got) {
					errs <- got
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for got := range errs {
		t.Errorf("reader observed out-of-range pulse width %d", got)
	}
}

func TestConcurrentDisconnectAndNotifyTarget(t *testing.T) {
	s := mustNewState(t)
	for i := 0; i < 1000; i++ {
		s.Connect("AA:BB")
		s.SetSubscribed(true)

		done := make(chan struct{})
		go func() {
			s.Disconnect("AA:BB")
			close(done)
		}()
		<-done

		if _, ok := s.NotifyTarget(); ok {
			t.Fatalf("iteration %d: NotifyTarget() returned a target after disconnect", i)
		}
	}
}
