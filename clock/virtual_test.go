package clock

import (
	"testing"
	"time"
)

func TestVirtualAdvanceFiresDueTimers(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))

	var order []string
	v.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	v.AfterFunc(50*time.Millisecond, func() { order = append(order, "b") })
	v.AfterFunc(200*time.Millisecond, func() { order = append(order, "c") })

	v.Advance(100 * time.Millisecond)

	if got, want := order, []string{"b", "a"}; !equalStrings(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	v.Advance(100 * time.Millisecond)
	if got, want := order, []string{"b", "a", "c"}; !equalStrings(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestVirtualStopPreventsFire(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	fired := false
	timer := v.AfterFunc(10*time.Millisecond, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop() = false on first call")
	}
	if timer.Stop() {
		t.Error("Stop() = true on second call, want false (idempotent)")
	}
	v.Advance(20 * time.Millisecond)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestVirtualNowAdvances(t *testing.T) {
	start := time.Unix(1000, 0)
	v := NewVirtual(start)
	v.Advance(5 * time.Second)
	if got, want := v.Now(), start.Add(5*time.Second); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
