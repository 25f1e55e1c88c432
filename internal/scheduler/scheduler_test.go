package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/taskhive/realtime/internal/log"
)

type SchedulerTestSuite struct {
	suite.Suite
	clock     *clockwork.FakeClock
	scheduler *KeyedScheduler
	mu        sync.Mutex
	fired     map[string]int
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func (s *SchedulerTestSuite) SetupTest() {
	s.clock = clockwork.NewFakeClock()
	s.scheduler = NewWithClock(log.NewNop(), s.clock)
	s.fired = make(map[string]int)
}

func (s *SchedulerTestSuite) TearDownTest() {
	s.scheduler.Shutdown()
}

func (s *SchedulerTestSuite) record(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired[key]++
}

func (s *SchedulerTestSuite) firedCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired[key]
}

func (s *SchedulerTestSuite) TestFiresInDeadlineOrder() {
	fired := make(chan string, 2)

	go func() {
		for key := range s.scheduler.Chan() {
			s.record(key)
			fired <- key
		}
	}()

	s.scheduler.Enqueue("a", 50*time.Millisecond)
	s.scheduler.Enqueue("b", 100*time.Millisecond)

	s.clock.Advance(50 * time.Millisecond)
	s.Assert().Equal("a", <-fired)

	s.clock.Advance(50 * time.Millisecond)
	s.Assert().Equal("b", <-fired)

	s.Assert().Equal(1, s.firedCount("a"))
	s.Assert().Equal(1, s.firedCount("b"))
}

func (s *SchedulerTestSuite) TestEnqueueReplacesDeadline() {
	fired := make(chan string, 1)

	go func() {
		for key := range s.scheduler.Chan() {
			s.record(key)
			fired <- key
		}
	}()

	s.scheduler.Enqueue("a", 50*time.Millisecond)
	s.scheduler.Enqueue("a", 200*time.Millisecond)

	// original deadline passes without firing
	s.clock.Advance(100 * time.Millisecond)
	select {
	case <-fired:
		s.FailNow("fired before replaced deadline")
	case <-time.After(20 * time.Millisecond):
	}

	s.clock.Advance(100 * time.Millisecond)
	s.Assert().Equal("a", <-fired)
	s.Assert().Equal(1, s.firedCount("a"))
}

func (s *SchedulerTestSuite) TestCancel() {
	now := s.clock.Now()

	s.scheduler.doEnqueue(&entry{key: "a", due: now.Add(100 * time.Millisecond)})
	s.scheduler.doEnqueue(&entry{key: "b", due: now.Add(200 * time.Millisecond)})

	s.Assert().Equal(2, len(s.scheduler.entries))
	s.Assert().Equal(now.Add(100*time.Millisecond), s.scheduler.timerDue)

	s.scheduler.doCancel("a")

	s.Assert().Equal(1, len(s.scheduler.entries))
	s.Assert().Equal(now.Add(200*time.Millisecond), s.scheduler.timerDue)
	_, ok := s.scheduler.entries["b"]
	s.Assert().True(ok)
}

func (s *SchedulerTestSuite) TestCancelScope() {
	now := s.clock.Now()

	s.scheduler.doEnqueue(&entry{key: "conf-1/a", due: now.Add(100 * time.Millisecond)})
	s.scheduler.doEnqueue(&entry{key: "conf-1/b", due: now.Add(150 * time.Millisecond)})
	s.scheduler.doEnqueue(&entry{key: "conf-2/c", due: now.Add(200 * time.Millisecond)})

	for key := range s.scheduler.entries {
		if len(key) >= 7 && key[:7] == "conf-1/" {
			s.scheduler.doCancel(key)
		}
	}

	s.Assert().Equal(1, len(s.scheduler.entries))
	_, ok := s.scheduler.entries["conf-2/c"]
	s.Assert().True(ok)
}

func (s *SchedulerTestSuite) TestCancelUnknownKeyIsNoop() {
	s.scheduler.doCancel("missing")
	s.Assert().Equal(0, len(s.scheduler.entries))
}
