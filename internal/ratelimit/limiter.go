package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// AcceptLimiter tracks accept events against one or more sliding-window
// rates (e.g. 100/second and 2000/minute) and decides whether a new
// accept should be allowed immediately, guarding a listener's accept
// loop against a connection storm. Zero value is not usable; construct
// with NewAcceptLimiter.
type AcceptLimiter struct {
	rates     map[time.Duration]int
	retention time.Duration

	mu     sync.Mutex
	events *ring[int64]
	next   int64 // UnixNano of the next allowed accept, or 0 if none pending
}

var timeNow = time.Now

// NewAcceptLimiter builds a limiter enforcing every (window, maxCount)
// pair in rates simultaneously. Rates must be monotonic: a shorter
// window's count must be smaller than any longer window's, and its
// effective rate (count/duration) must be at least as strict. Panics on
// invalid input, matching the fail-fast treatment of programmer errors.
func NewAcceptLimiter(rates map[time.Duration]int) *AcceptLimiter {
	retention, ok := parseRates(rates)
	if !ok {
		panic(fmt.Errorf("ratelimit: invalid rates: %v", rates))
	}
	return &AcceptLimiter{
		rates:     rates,
		retention: retention,
		events:    newRing[int64](8),
	}
}

// Allow attempts to register an accept event now. If ok is false, the
// caller should defer the accept until the returned time; the listener
// typically parks the accept loop (or simply skips a poll cycle) until
// then rather than busy-spinning.
func (l *AcceptLimiter) Allow() (next time.Time, ok bool) {
	if l == nil || len(l.rates) == 0 {
		return time.Time{}, true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := timeNow()
	nowNano := now.UnixNano()

	if l.next != 0 && nowNano < l.next {
		return time.Unix(0, l.next), false
	}

	l.events.Insert(l.events.Search(nowNano), nowNano)

	remaining := filterEvents(now, l.rates, l.events)
	if remaining <= 0 {
		l.next = 0
		return time.Time{}, true
	}

	nextTime := now.Add(remaining)
	l.next = nextTime.UnixNano()
	return nextTime, true
}

// parseRates validates rates and returns the retention window: the
// largest duration for which a rate is defined.
func parseRates(rates map[time.Duration]int) (time.Duration, bool) {
	if len(rates) == 0 {
		return 0, false
	}

	durations := make([]time.Duration, 0, len(rates))
	for d := range rates {
		durations = append(durations, d)
	}
	slices.Sort(durations)

	for i, d := range durations {
		rate := rates[d]
		if rate <= 0 || d <= 0 {
			return 0, false
		}
		if (i < len(durations)-1 && rate >= rates[durations[i+1]]) ||
			(i > 0 && float64(rate)/float64(d) >= float64(rates[durations[i-1]])/float64(durations[i-1])) {
			return 0, false
		}
	}

	return durations[len(durations)-1], true
}

// filterEvents drops events older than every configured window and
// returns how long to wait before the next accept would stay within all
// windows.
func filterEvents(now time.Time, rates map[time.Duration]int, events *ring[int64]) (remaining time.Duration) {
	indexFirstRelevant := events.Len()

	for rate, limit := range rates {
		boundary := now.Add(-rate)

		index := events.Search(boundary.UnixNano() + 1)
		if index < indexFirstRelevant {
			indexFirstRelevant = index
		}

		if limit <= events.Len()-index {
			offset := time.Unix(0, events.Get(events.Len()-limit)).Sub(boundary)
			if offset > remaining {
				remaining = offset
			}
		}
	}

	events.RemoveBefore(indexFirstRelevant)
	return remaining
}
