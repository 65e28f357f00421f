// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.waitersChanged = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a waiter that fires when the clock is advanced past
// now+d. If d <= 0 the channel is ready immediately and no waiter is
// registered.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.waitersChanged.Broadcast()
	return channel
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline is now due, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current

	var due, remaining []*fakeWaiter
	for _, waiter := range c.waiters {
		if waiter.deadline.After(target) {
			remaining = append(remaining, waiter)
		} else {
			due = append(due, waiter)
		}
	}
	c.waiters = remaining
	c.waitersChanged.Broadcast()
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, waiter := range due {
		waiter.channel <- target
	}
}

// WaitForTimers blocks until at least n waiters are pending. Use it
// to close the race between a goroutine arming a timer and the test
// advancing the clock.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.waitersChanged.Wait()
	}
}

// PendingCount returns the number of waiters that have not fired.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
