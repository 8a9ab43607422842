package router

import (
	"context"
	"sync"
)

// TypingNotifier starts a channel's "typing" presence indicator. The
// returned stop function ends it; it must be safe to call more than once
// and safe to call even if the surrounding turn was cancelled.
type TypingNotifier interface {
	StartTyping(ctx context.Context, channel, target string) (stop func(), err error)
}

// guardedStop wraps a stop function so Router can call it from both the
// turn's first-reply callback and its own cleanup defer without double
// stopping the indicator.
func guardedStop(stop func()) func() {
	if stop == nil {
		return func() {}
	}
	var once sync.Once
	return func() { once.Do(stop) }
}
