package worktreelock

import (
	"testing"
	"time"
)

func TestTryWriteLock_ExcludesConcurrentAttempt(t *testing.T) {
	s := New()
	unlock, ok := s.TryWriteLock(1, 1)
	if !ok {
		t.Fatal("expected first lock to succeed")
	}
	if _, ok := s.TryWriteLock(1, 1); ok {
		t.Fatal("expected second concurrent lock to fail")
	}
	unlock()
	if _, ok := s.TryWriteLock(1, 1); !ok {
		t.Fatal("expected lock to succeed after unlock")
	}
}

func TestTryWriteLock_IndependentPerKey(t *testing.T) {
	s := New()
	unlock1, ok := s.TryWriteLock(1, 1)
	if !ok {
		t.Fatal("expected lock on (1,1) to succeed")
	}
	defer unlock1()

	if _, ok := s.TryWriteLock(1, 2); !ok {
		t.Fatal("expected lock on a different task to succeed independently")
	}
}

func TestReadLock_BlocksUntilWriteLockReleased(t *testing.T) {
	s := New()
	unlockWrite, ok := s.TryWriteLock(2, 5)
	if !ok {
		t.Fatal("expected write lock to succeed")
	}

	acquired := make(chan struct{})
	go func() {
		unlockRead := s.ReadLock(2, 5)
		defer unlockRead()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("read lock should not have been acquired while write lock is held")
	case <-time.After(20 * time.Millisecond):
	}

	unlockWrite()
	<-acquired
}
