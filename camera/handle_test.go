package camera

import "testing"

func TestHandleGuardAcquireOnce(t *testing.T) {
	var g HandleGuard
	inits := 0
	init := func() (Handle, int) {
		inits++
		return Handle(7), OK
	}
	h, err := g.Acquire(init)
	if err != nil || h != 7 {
		t.Fatalf("Acquire = %v, %v", h, err)
	}
	h2, err := g.Acquire(init)
	if err != nil || h2 != 7 {
		t.Fatalf("second Acquire = %v, %v", h2, err)
	}
	if inits != 1 {
		t.Errorf("init ran %d times, want 1", inits)
	}
}

func TestHandleGuardInitFailure(t *testing.T) {
	var g HandleGuard
	_, err := g.Acquire(func() (Handle, int) { return 0, 0x80000007 })
	if KindOf(err) != InitFailed {
		t.Fatalf("Acquire error = %v, want InitFailed", err)
	}
	if _, held := g.Handle(); held {
		t.Errorf("guard reports a handle after failed init")
	}
	// a zero handle with an OK code is still a failure
	_, err = g.Acquire(func() (Handle, int) { return 0, OK })
	if KindOf(err) != InitFailed {
		t.Errorf("Acquire with zero handle = %v, want InitFailed", err)
	}
}

func TestHandleGuardReleaseIdempotent(t *testing.T) {
	var g HandleGuard
	if _, err := g.Acquire(func() (Handle, int) { return 3, OK }); err != nil {
		t.Fatal(err)
	}
	uninits := 0
	uninit := func(h Handle) int {
		if h != 3 {
			t.Errorf("uninit received handle %v, want 3", h)
		}
		uninits++
		return OK
	}
	g.Release(uninit)
	g.Release(uninit)
	if uninits != 1 {
		t.Errorf("uninit ran %d times, want 1", uninits)
	}
	if _, held := g.Handle(); held {
		t.Errorf("guard reports a handle after release")
	}
}

func TestHandleGuardReacquireAfterRelease(t *testing.T) {
	var g HandleGuard
	if _, err := g.Acquire(func() (Handle, int) { return 1, OK }); err != nil {
		t.Fatal(err)
	}
	g.Release(func(Handle) int { return OK })
	h, err := g.Acquire(func() (Handle, int) { return 2, OK })
	if err != nil || h != 2 {
		t.Errorf("reacquire = %v, %v, want 2, nil", h, err)
	}
}
