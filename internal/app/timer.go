package app

import (
	"time"

	"github.com/jonboulle/clockwork"

	"live-classroom-service/internal/domain"
)

type timerKind int

const (
	timerDeadline timerKind = iota
	timerGrace
	timerSweep
)

func (k timerKind) String() string {
	switch k {
	case timerDeadline:
		return "deadline"
	case timerGrace:
		return "grace"
	case timerSweep:
		return "sweep"
	}
	return "unknown"
}

// timerTag records the state a timer was armed for. A firing whose tag no longer
// matches the session state is discarded by the host.
type timerTag struct {
	kind          timerKind
	phase         domain.Phase
	questionIndex int
}

// TimerController arms at most one timer per kind. It is only touched from the host loop.
type TimerController struct {
	clock  clockwork.Clock
	fire   func(timerTag)
	active map[timerKind]clockwork.Timer
}

func NewTimerController(clock clockwork.Clock, fire func(timerTag)) *TimerController {
	return &TimerController{
		clock:  clock,
		fire:   fire,
		active: make(map[timerKind]clockwork.Timer),
	}
}

// Arm replaces any pending timer of the same kind.
func (tc *TimerController) Arm(tag timerTag, d time.Duration) {
	tc.Cancel(tag.kind)
	tc.active[tag.kind] = tc.clock.AfterFunc(d, func() {
		tc.fire(tag)
	})
}

// Cancel stops the pending timer of the given kind, if any.
func (tc *TimerController) Cancel(kind timerKind) {
	if t, ok := tc.active[kind]; ok {
		t.Stop()
		delete(tc.active, kind)
	}
}

// CancelAll stops every pending timer.
func (tc *TimerController) CancelAll() {
	for kind := range tc.active {
		tc.Cancel(kind)
	}
}

// Pending reports whether a timer of the given kind is armed.
func (tc *TimerController) Pending(kind timerKind) bool {
	_, ok := tc.active[kind]
	return ok
}
