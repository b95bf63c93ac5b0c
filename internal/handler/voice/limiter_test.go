package voice

import (
	"testing"
	"time"
)

func TestAudioLimiterBurstThenDeny(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newAudioLimiter(clock, 1, 0, 2, 0)
	if !lim.Allow(10) || !lim.Allow(10) {
		t.Fatalf("expected the two-frame burst to be allowed")
	}
	if lim.Allow(10) {
		t.Fatalf("expected third frame to be denied")
	}
}

func TestAudioLimiterRefills(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newAudioLimiter(clock, 10, 0, 1, 0)
	for i := 0; i < 10; i++ {
		if !lim.Allow(1) {
			t.Fatalf("expected allow at i=%d", i)
		}
	}
	if lim.Allow(1) {
		t.Fatalf("expected deny once tokens are spent")
	}

	now = now.Add(100 * time.Millisecond)
	if !lim.Allow(1) {
		t.Fatalf("expected allow after refill")
	}
	if lim.Allow(1) {
		t.Fatalf("expected deny without further refill")
	}

	now = now.Add(time.Hour)
	for i := 0; i < 10; i++ {
		if !lim.Allow(1) {
			t.Fatalf("expected refill capped at burst, deny at i=%d", i)
		}
	}
	if lim.Allow(1) {
		t.Fatalf("expected tokens capped at burst size")
	}
}

func TestAudioLimiterBytes(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newAudioLimiter(clock, 0, 100, 2, 0)
	if !lim.Allow(150) {
		t.Fatalf("expected 150 bytes within burst")
	}
	if lim.Allow(60) {
		t.Fatalf("expected 60 bytes to exceed remaining budget")
	}
	if !lim.Allow(50) {
		t.Fatalf("expected 50 bytes to fit")
	}
}

func TestAudioLimiterAdmitsFrameAtReadLimit(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	// 512 KiB/s with a one second burst, 1 MiB read limit.
	lim := newAudioLimiter(clock, 0, 512<<10, 1, 1<<20)
	if !lim.Allow(800 << 10) {
		t.Fatalf("expected a frame under the read limit to fit a full bucket")
	}
	if lim.Allow(800 << 10) {
		t.Fatalf("expected the spent bucket to deny the next large frame")
	}

	now = now.Add(2 * time.Second)
	if !lim.Allow(800 << 10) {
		t.Fatalf("expected the large frame to pass after refill")
	}
}

func TestAudioLimiterDisabled(t *testing.T) {
	lim := newAudioLimiter(nil, 0, 0, 1, 1<<20)
	if lim != nil {
		t.Fatalf("expected nil limiter when no rate is set")
	}
	if !lim.Allow(1 << 20) {
		t.Fatalf("nil limiter must allow")
	}
}
