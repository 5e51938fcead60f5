// Package undo provides a token-ordered undo log for reversing table
// mutations. Mutations register inverse actions into the most recently
// begun quantum; rolling back a token reverses every quantum at or above
// it in strict LIFO order, releasing a token discards every quantum at or
// below it.
//
// Undo actions capture row addresses. Compaction relocates rows without
// registering anything, so run compaction only while the log is empty.
package undo

// Log groups undo actions into quanta keyed by caller-supplied tokens.
// Tokens must be non-decreasing across Begin calls. The zero value is
// ready to use.
type Log struct {
	quanta []quantum
}

type quantum struct {
	token   uint64
	actions []func()
}

// NewLog returns an empty log.
func NewLog() *Log { return &Log{} }

// Begin opens the quantum for token. Reopening the current token is a
// no-op, so interleaved mutations land in the same quantum.
func (l *Log) Begin(token uint64) {
	if n := len(l.quanta); n > 0 && l.quanta[n-1].token == token {
		return
	}
	l.quanta = append(l.quanta, quantum{token: token})
}

// Register appends an inverse action to the current quantum. With no
// quantum open the action is dropped and the mutation is permanent.
func (l *Log) Register(fn func()) {
	if len(l.quanta) == 0 {
		return
	}
	q := &l.quanta[len(l.quanta)-1]
	q.actions = append(q.actions, fn)
}

// Undo rolls back every quantum with a token at or above the given one,
// newest first, running each quantum's actions in reverse registration
// order. Rolled-back quanta are discarded.
func (l *Log) Undo(token uint64) {
	for len(l.quanta) > 0 {
		q := &l.quanta[len(l.quanta)-1]
		if q.token < token {
			return
		}
		for i := len(q.actions) - 1; i >= 0; i-- {
			q.actions[i]()
		}
		l.quanta = l.quanta[:len(l.quanta)-1]
	}
}

// Release discards every quantum with a token at or below the given one.
// Released mutations can no longer be undone.
func (l *Log) Release(token uint64) {
	i := 0
	for i < len(l.quanta) && l.quanta[i].token <= token {
		i++
	}
	if i > 0 {
		l.quanta = append(l.quanta[:0], l.quanta[i:]...)
	}
}

// Open returns the number of unreleased quanta.
func (l *Log) Open() int { return len(l.quanta) }

// Pending returns the number of registered actions across open quanta.
func (l *Log) Pending() int {
	n := 0
	for i := range l.quanta {
		n += len(l.quanta[i].actions)
	}
	return n
}
