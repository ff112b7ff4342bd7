package auth

import "time"

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 30 * time.Minute
)

// LockStatus is the state of the lockout machine at a point in time.
type LockStatus int

const (
	LockOpen LockStatus = iota
	LockLocked
)

func (s LockStatus) String() string {
	if s == LockLocked {
		return "locked"
	}
	return "open"
}

// LockoutState is the persisted part of the machine.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockoutPolicy locks an account for Duration once Threshold consecutive
// failures accumulate.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy is five failures, thirty minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: DefaultLockoutThreshold, Duration: DefaultLockoutDuration}
}

func (p LockoutPolicy) normalized() LockoutPolicy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultLockoutThreshold
	}
	if p.Duration <= 0 {
		p.Duration = DefaultLockoutDuration
	}
	return p
}

// Status reports LockLocked while now is before LockedUntil.
func (p LockoutPolicy) Status(st LockoutState, now time.Time) LockStatus {
	if st.LockedUntil != nil && now.Before(*st.LockedUntil) {
		return LockLocked
	}
	return LockOpen
}

// Fail returns the state after one more failed attempt at now.
// A failure while locked changes nothing; the first failure after an expired
// lock starts a fresh count.
func (p LockoutPolicy) Fail(st LockoutState, now time.Time) LockoutState {
	p = p.normalized()
	if p.Status(st, now) == LockLocked {
		return st
	}
	if st.LockedUntil != nil {
		st = LockoutState{}
	}
	next := LockoutState{FailedAttempts: st.FailedAttempts + 1}
	if next.FailedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		next.LockedUntil = &until
	}
	return next
}

// Succeed returns the state after a successful login.
func (p LockoutPolicy) Succeed() LockoutState {
	return LockoutState{}
}

// Remaining is how long the lock still holds at now, zero when open.
func (st LockoutState) Remaining(now time.Time) time.Duration {
	if st.LockedUntil == nil || !now.Before(*st.LockedUntil) {
		return 0
	}
	return st.LockedUntil.Sub(now)
}
