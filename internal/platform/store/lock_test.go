package store

import (
	"testing"

	"github.com/caretide/fhir-server/internal/platform/fhir"
)

func TestMaintenanceLockCheck(t *testing.T) {
	tests := []struct {
		state     LockState
		write     bool
		wantError bool
	}{
		{Unlocked, false, false},
		{Unlocked, true, false},
		{WriteLocked, false, false},
		{WriteLocked, true, true},
		{FullyLocked, false, true},
		{FullyLocked, true, true},
	}
	for _, tt := range tests {
		name := tt.state.String() + " read"
		if tt.write {
			name = tt.state.String() + " write"
		}
		t.Run(name, func(t *testing.T) {
			l := NewMaintenanceLock()
			l.Set(tt.state)
			err := l.Check(tt.write)
			if tt.wantError {
				if fhir.KindOf(err) != fhir.KindUnavailable {
					t.Errorf("Check(write=%v) = %v, want unavailable", tt.write, err)
				}
			} else if err != nil {
				t.Errorf("Check(write=%v) = %v, want nil", tt.write, err)
			}
		})
	}
}

func TestMaintenanceLockStateRoundTrip(t *testing.T) {
	l := NewMaintenanceLock()
	if l.State() != Unlocked {
		t.Errorf("initial state = %v", l.State())
	}
	l.Set(FullyLocked)
	if l.State() != FullyLocked {
		t.Errorf("state = %v, want fully-locked", l.State())
	}
	l.Set(Unlocked)
	if err := l.Check(true); err != nil {
		t.Errorf("Check after unlock = %v", err)
	}
}
