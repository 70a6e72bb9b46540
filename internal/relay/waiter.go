package relay

import (
	"sync"

	"github.com/danmuck/mcrelay/internal/protocol/key"
	"github.com/danmuck/mcrelay/internal/protocol/packet"
)

// waiter is one proxy-initiated cookie request waiting for the client.
type waiter struct {
	key  key.Key
	ch   chan packet.CookieResponse
	done chan struct{}
	once sync.Once
}

func (w *waiter) finish(resp *packet.CookieResponse) {
	w.once.Do(func() {
		if resp != nil {
			w.ch <- *resp
		}
		close(w.ch)
		close(w.done)
	})
}

func (s *Session) addWaiter(k key.Key) *waiter {
	w := &waiter{key: k, ch: make(chan packet.CookieResponse, 1), done: make(chan struct{})}
	s.cmu.Lock()
	s.waiters[k] = append(s.waiters[k], w)
	s.cmu.Unlock()
	return w
}

func (s *Session) removeWaiter(w *waiter) bool {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	queue := s.waiters[w.key]
	for i, other := range queue {
		if other != w {
			continue
		}
		queue = append(queue[:i:i], queue[i+1:]...)
		if len(queue) == 0 {
			delete(s.waiters, w.key)
		} else {
			s.waiters[w.key] = queue
		}
		return true
	}
	return false
}

// deliver hands resp to the oldest waiter on its key.
func (s *Session) deliver(resp *packet.CookieResponse) bool {
	s.cmu.Lock()
	queue := s.waiters[resp.Key]
	if len(queue) == 0 {
		s.cmu.Unlock()
		return false
	}
	w := queue[0]
	if len(queue) == 1 {
		delete(s.waiters, resp.Key)
	} else {
		s.waiters[resp.Key] = queue[1:]
	}
	s.cmu.Unlock()
	w.finish(resp)
	return true
}

func (s *Session) deliverTo(w *waiter, resp *packet.CookieResponse) {
	s.removeWaiter(w)
	w.finish(resp)
}

func (s *Session) dropWaiter(w *waiter) {
	s.removeWaiter(w)
	w.finish(nil)
}

func (s *Session) dropAllWaiters() {
	s.cmu.Lock()
	all := s.waiters
	s.waiters = make(map[key.Key][]*waiter)
	s.cmu.Unlock()
	for _, queue := range all {
		for _, w := range queue {
			w.finish(nil)
		}
	}
}
