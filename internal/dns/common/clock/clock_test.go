package clock

import (
	"sync"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("clock time %v outside [%v, %v]", now, before, after)
	}
}

func TestMockClock_Now(t *testing.T) {
	fixedTime := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &MockClock{CurrentTime: fixedTime}

	if now := clock.Now(); !now.Equal(fixedTime) {
		t.Errorf("Expected %v, got %v", fixedTime, now)
	}
}

func TestMockClock_Advance(t *testing.T) {
	initialTime := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &MockClock{CurrentTime: initialTime}

	testCases := []struct {
		name     string
		duration time.Duration
		expected time.Time
	}{
		{name: "advance by 6 hours", duration: 6 * time.Hour, expected: initialTime.Add(6 * time.Hour)},
		{name: "advance by 30 minutes more", duration: 30 * time.Minute, expected: initialTime.Add(6*time.Hour + 30*time.Minute)},
		{name: "advance backwards", duration: -time.Hour, expected: initialTime.Add(5*time.Hour + 30*time.Minute)},
		{name: "advance by zero", duration: 0, expected: initialTime.Add(5*time.Hour + 30*time.Minute)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock.Advance(tc.duration)
			if now := clock.Now(); !now.Equal(tc.expected) {
				t.Errorf("Expected %v, got %v", tc.expected, now)
			}
		})
	}
}

func TestMockClock_Set(t *testing.T) {
	clock := &MockClock{}
	target := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	clock.Set(target)
	if !clock.Now().Equal(target) {
		t.Errorf("Expected %v, got %v", target, clock.Now())
	}
}

func TestSince(t *testing.T) {
	start := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &MockClock{CurrentTime: start}
	clock.Advance(90 * time.Second)

	if got := Since(clock, start); got != 90*time.Second {
		t.Errorf("Since = %v, want 90s", got)
	}
}

func TestClock_Interface_Compliance(t *testing.T) {
	var _ Clock = RealClock{}
	var _ Clock = &MockClock{}
}

func TestMockClock_Concurrent_Access(t *testing.T) {
	clock := &MockClock{CurrentTime: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = clock.Now()
		}()
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
	}
	wg.Wait()

	want := time.Date(2025, 8, 1, 12, 0, 10, 0, time.UTC)
	if !clock.Now().Equal(want) {
		t.Errorf("Expected %v, got %v", want, clock.Now())
	}
}
