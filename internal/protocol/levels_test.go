package protocol

import "testing"

func TestLoggingLevelAllows(t *testing.T) {
	tests := []struct {
		min  LoggingLevel
		msg  LoggingLevel
		want bool
	}{
		{LevelInfo, LevelInfo, true},
		{LevelInfo, LevelError, true},
		{LevelInfo, LevelDebug, false},
		{LevelTrace, LevelTrace, true},
		{LevelEmergency, LevelAlert, false},
		{LevelEmergency, LevelEmergency, true},
		{LevelOff, LevelEmergency, false},
		{LevelInfo, LevelOff, false},
	}

	for _, tt := range tests {
		if got := tt.min.Allows(tt.msg); got != tt.want {
			t.Errorf("%s.Allows(%s) = %v, want %v", tt.min, tt.msg, got, tt.want)
		}
	}
}

func TestParseLoggingLevel(t *testing.T) {
	if _, err := ParseLoggingLevel("warning"); err != nil {
		t.Errorf("expected warning to parse, got %v", err)
	}
	if _, err := ParseLoggingLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
