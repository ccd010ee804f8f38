package bridge

import (
	"strconv"
	"time"
)

type waitMode int

const (
	waitDefault waitMode = iota
	waitNone
	waitSeconds
)

// Wait is a caller's choice of how long to block for a reply. The zero
// value means "not specified": the configured default applies.
type Wait struct {
	mode    waitMode
	seconds int
}

// NoWait asks for an immediate answer.
func NoWait() Wait { return Wait{mode: waitNone} }

// WaitFor asks to wait up to seconds. Non-positive values mean "not
// specified".
func WaitFor(seconds int) Wait {
	if seconds <= 0 {
		return Wait{}
	}
	return Wait{mode: waitSeconds, seconds: seconds}
}

// ParseWait interprets a query value. The literals "false" and "0" mean no
// wait, a positive integer is a number of seconds, and anything else
// (including an absent parameter) leaves the default in effect.
func ParseWait(raw string, present bool) Wait {
	if !present {
		return Wait{}
	}
	if raw == "false" || raw == "0" {
		return NoWait()
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Wait{}
	}
	return WaitFor(n)
}

// IsDefault reports whether the caller left the wait unspecified.
func (w Wait) IsDefault() bool { return w.mode == waitDefault }

// IsNone reports whether the caller asked not to wait.
func (w Wait) IsNone() bool { return w.mode == waitNone }

func (w Wait) String() string {
	switch w.mode {
	case waitNone:
		return "none"
	case waitSeconds:
		return strconv.Itoa(w.seconds) + "s"
	}
	return "default"
}

// submitWait resolves how long a submission blocks. A zero result means
// the submission returns without waiting.
func (b *Bridge) submitWait(w Wait) time.Duration {
	switch w.mode {
	case waitNone:
		return 0
	case waitSeconds:
		return b.clamp(w.seconds)
	}
	if !b.opts.ResponseEnabled {
		return 0
	}
	return b.clamp(b.opts.DefaultWait)
}

// fetchWait resolves how long a fetch blocks. A fetch never returns
// "accepted", so anything but an explicit duration falls back to the
// configured default.
func (b *Bridge) fetchWait(w Wait) time.Duration {
	if w.mode == waitSeconds {
		return b.clamp(w.seconds)
	}
	return b.clamp(b.opts.DefaultWait)
}

// clamp bounds a wait by MaxWait. A MaxWait of zero disables waiting.
func (b *Bridge) clamp(seconds int) time.Duration {
	seconds = min(seconds, b.opts.MaxWait)
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
