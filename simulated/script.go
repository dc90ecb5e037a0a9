package simulated

import (
	"time"

	"github.com/opd-ai/mcuxfer/native"
)

type actionKind uint8

const (
	actionWait actionKind = iota
	actionTransition
	actionProgress
	actionFail
	actionFinish
	actionStall
	actionLog
)

// Action is one step of a script.
type Action struct {
	kind       actionKind
	delay      time.Duration
	oldState   native.State
	newState   native.State
	percentage int
	code       native.ErrorCode
	message    string
	level      native.LogLevel
}

// Script returns the actions to play for the given 1-based attempt.
type Script func(attempt int, req native.BeginRequest) []Action

// Wait pauses the script.
func Wait(d time.Duration) Action {
	return Action{kind: actionWait, delay: d}
}

// Transition advertises a state change.
func Transition(oldState, newState native.State) Action {
	return Action{kind: actionTransition, oldState: oldState, newState: newState}
}

// Progress advertises progress.
func Progress(percentage int) Action {
	return Action{kind: actionProgress, percentage: percentage}
}

// Fail moves to Error and advertises a fatal error.
func Fail(code native.ErrorCode, message string) Action {
	return Action{kind: actionFail, code: code, message: message}
}

// Finish completes the operation: uploads are stored, downloads return the
// stored file or fail with a not-found error.
func Finish() Action {
	return Action{kind: actionFinish}
}

// Stall blocks until the operation is cancelled or cleaned up.
func Stall() Action {
	return Action{kind: actionStall}
}

// Log advertises a native log line.
func Log(level native.LogLevel, message string) Action {
	return Action{kind: actionLog, level: level, message: message}
}

func startActions() []Action {
	return []Action{
		Transition(native.StateNone, native.StateIdle),
		Transition(native.StateIdle, native.StateInProgress),
	}
}

func progressActions(steps int) []Action {
	actions := make([]Action, 0, steps)
	for i := 1; i <= steps; i++ {
		actions = append(actions, Progress(i*100/(steps+1)))
	}
	return actions
}

// Succeed starts, reports steps progress updates and finishes.
func Succeed(steps int) Script {
	return func(int, native.BeginRequest) []Action {
		actions := startActions()
		actions = append(actions, progressActions(steps)...)
		return append(actions, Finish())
	}
}

// FailFirst fails the first n attempts with code after progressBeforeFailure
// progress updates, then succeeds.
func FailFirst(n int, code native.ErrorCode, progressBeforeFailure int) Script {
	return func(attempt int, req native.BeginRequest) []Action {
		if attempt > n {
			return Succeed(3)(attempt, req)
		}
		actions := startActions()
		actions = append(actions, progressActions(progressBeforeFailure)...)
		return append(actions, Fail(code, "simulated link failure"))
	}
}

// AlwaysFail fails every attempt.
func AlwaysFail(code native.ErrorCode, message string) Script {
	return func(int, native.BeginRequest) []Action {
		return append(startActions(), Fail(code, message))
	}
}

// NotFound fails every attempt with a file-system not-found error.
func NotFound() Script {
	return AlwaysFail(native.ErrorCodeFilesystemNotFound, "remote file not found")
}

// Hang starts, reports a little progress and then never finishes.
func Hang() Script {
	return func(int, native.BeginRequest) []Action {
		actions := startActions()
		return append(actions, Progress(10), Stall())
	}
}

// Slow succeeds after d.
func Slow(d time.Duration) Script {
	return func(int, native.BeginRequest) []Action {
		actions := startActions()
		return append(actions, Wait(d), Finish())
	}
}

// Sequence plays scripts[attempt-1], repeating the last one.
func Sequence(scripts ...Script) Script {
	return func(attempt int, req native.BeginRequest) []Action {
		if len(scripts) == 0 {
			return nil
		}
		i := attempt - 1
		if i >= len(scripts) {
			i = len(scripts) - 1
		}
		return scripts[i](attempt, req)
	}
}
