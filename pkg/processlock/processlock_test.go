package processlock

import (
	"fmt"
	"testing"
)

func TestAcquireThenReleaseAllowsReacquire(t *testing.T) {
	name := fmt.Sprintf("test-%d", 1)

	lock, err := Acquire(name)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	lock2, err := Acquire(name)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	defer lock2.Release()
}

func TestAcquireTwiceFails(t *testing.T) {
	name := fmt.Sprintf("test-%d", 2)

	lock, err := Acquire(name)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lock.Release()

	if _, err := Acquire(name); err == nil {
		t.Error("expected a second Acquire() of the same name to fail")
	}
}

func TestAcquireDistinctNamesSucceed(t *testing.T) {
	a, err := Acquire(fmt.Sprintf("test-%d-a", 3))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer a.Release()

	b, err := Acquire(fmt.Sprintf("test-%d-b", 3))
	if err != nil {
		t.Fatalf("Acquire() for a different name error = %v", err)
	}
	defer b.Release()
}
