package identity

import (
	"testing"
	"time"
)

func TestIsLocked(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name      string
		locked    bool
		lockUntil *time.Time
		want      bool
	}{
		{"unlocked", false, nil, false},
		{"flag set, no deadline", true, nil, false},
		{"flag set, future deadline", true, &future, true},
		{"flag set, elapsed deadline", true, &past, false},
		{"flag clear, future deadline", false, &future, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &Identity{AccountLocked: tt.locked, LockUntil: tt.lockUntil}
			if got := IsLocked(id, now); got != tt.want {
				t.Errorf("IsLocked() = %v, want %v", got, tt.want)
			}
		})
	}
}
