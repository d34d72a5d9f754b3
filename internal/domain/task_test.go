package domain

import "testing"

func TestTaskStatus_Values(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   string
	}{
		{TaskStatusScheduled, "scheduled"},
		{TaskStatusCompleted, "completed"},
		{TaskStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("TaskStatus = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	if TaskStatusScheduled.Terminal() {
		t.Error("scheduled must not be terminal")
	}
	if !TaskStatusCompleted.Terminal() {
		t.Error("completed must be terminal")
	}
	if !TaskStatusFailed.Terminal() {
		t.Error("failed must be terminal")
	}
}
