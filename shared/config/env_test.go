package config

import (
	"testing"
	"time"
)

func TestGetDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset uses fallback", "", 5 * time.Second},
		{"valid value", "250ms", 250 * time.Millisecond},
		{"garbage uses fallback", "soon", 5 * time.Second},
		{"negative uses fallback", "-1s", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_TIMEOUT", tt.value)
			if got := GetDuration("TEST_TIMEOUT", 5*time.Second); got != tt.want {
				t.Errorf("[%s] expected %s got %s", tt.name, tt.want, got)
			}
		})
	}
}

func TestGetURLTrimsSlash(t *testing.T) {
	t.Setenv("TEST_URL", "http://localhost:8084/")
	if got := GetURL("TEST_URL", ""); got != "http://localhost:8084" {
		t.Errorf("expected trailing slash removed, got %s", got)
	}
}

func TestGetInt(t *testing.T) {
	t.Setenv("TEST_DB", "3")
	if got := GetInt("TEST_DB", 0); got != 3 {
		t.Errorf("expected 3 got %d", got)
	}
	if got := GetInt("TEST_UNSET_INT", 7); got != 7 {
		t.Errorf("expected fallback 7 got %d", got)
	}
}
