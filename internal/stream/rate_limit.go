package stream

import (
	"errors"
	"math"
	"sync"

	"golang.org/x/time/rate"
)

var (
	errClientBusy = errors.New("too many concurrent streams from this address")
	errServerFull = errors.New("stream capacity reached")
)

// slots caps how many streams one client address, and the server as a
// whole, may hold open at once. SSE and WebSocket share the same pool.
type slots struct {
	mu     sync.Mutex
	byIP   map[string]int
	open   int
	perIP  int
	server int
}

func newSlots(perIP, server int) *slots {
	return &slots{byIP: make(map[string]int), perIP: perIP, server: server}
}

// take reserves a slot for ip. The returned func gives it back; calling it
// more than once has no further effect.
func (s *slots) take(ip string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.open >= s.server:
		return nil, errServerFull
	case s.byIP[ip] >= s.perIP:
		return nil, errClientBusy
	}
	s.byIP[ip]++
	s.open++

	var once sync.Once
	return func() { once.Do(func() { s.give(ip) }) }, nil
}

func (s *slots) give(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open--
	if s.byIP[ip]--; s.byIP[ip] <= 0 {
		delete(s.byIP, ip)
	}
}

// held reports how many slots ip currently holds.
func (s *slots) held(ip string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byIP[ip]
}

// total reports how many slots are held across all clients.
func (s *slots) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// newControlLimiter limits inbound control messages on one socket to
// perSecond, with a burst of one second's worth. A non-positive rate
// refuses every control message.
func newControlLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 || math.IsNaN(perSecond) {
		return rate.NewLimiter(0, 0)
	}
	burst := max(1, int(math.Ceil(perSecond)))
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
