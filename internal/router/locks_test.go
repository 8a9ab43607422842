package router

import (
	"testing"
	"time"

	"github.com/haasonsaas/coop/internal/types"
)

func TestSessionLocks_SerializesSameKey(t *testing.T) {
	locks := NewSessionLocks()
	key := types.SessionKey("agent-1:main")

	var order []int
	done := make(chan struct{})

	go func() {
		unlock := locks.Lock(key)
		defer unlock()
		order = append(order, 1)
		time.Sleep(20 * time.Millisecond)
		order = append(order, 2)
		done <- struct{}{}
	}()

	time.Sleep(5 * time.Millisecond)
	unlock := locks.Lock(key)
	order = append(order, 3)
	unlock()
	<-done

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected serialized order [1 2 3], got %v", order)
	}
}

func TestSessionLocks_DifferentKeysDoNotBlock(t *testing.T) {
	locks := NewSessionLocks()
	unlockA := locks.Lock(types.SessionKey("agent-1:main"))
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock(types.SessionKey("agent-1:dm:signal:+1"))
		unlockB()
		done <- struct{}{}
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("lock on a different session key blocked unexpectedly")
	}
}
