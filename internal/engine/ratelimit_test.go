package engine

import "testing"

func TestUserLimiter(t *testing.T) {
	l := NewUserLimiter(3)
	for i := range 3 {
		if !l.Allow(1) {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if l.Allow(1) {
		t.Error("4th request within a minute should be limited")
	}
	if !l.Allow(2) {
		t.Error("other users have their own budget")
	}
}
