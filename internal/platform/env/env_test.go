package env

import (
	"testing"
	"time"
)

func TestString_Default(t *testing.T) {
	got := String("DASHBOARD_ENV_STRING_DOES_NOT_EXIST", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_BlankUsesDefault(t *testing.T) {
	t.Setenv("DASHBOARD_ENV_STRING_BLANK", "   ")
	got := String("DASHBOARD_ENV_STRING_BLANK", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("DASHBOARD_ENV_STRING_KEY", " value ")
	got := String("DASHBOARD_ENV_STRING_KEY", "fallback")
	if got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("DASHBOARD_ENV_DURATION_DOES_NOT_EXIST", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 5*time.Second {
		t.Fatalf("Duration()=%v, want 5s", got)
	}

	t.Setenv("DASHBOARD_ENV_DURATION_KEY", "250ms")
	got, err = Duration("DASHBOARD_ENV_DURATION_KEY", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v, want 250ms", got)
	}

	t.Setenv("DASHBOARD_ENV_DURATION_KEY", "not-a-duration")
	if _, err := Duration("DASHBOARD_ENV_DURATION_KEY", 5*time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("DASHBOARD_ENV_BOOL_KEY", "false")
	got, err := Bool("DASHBOARD_ENV_BOOL_KEY", true)
	if err != nil {
		t.Fatalf("Bool() err=%v", err)
	}
	if got {
		t.Fatalf("Bool()=%v, want false", got)
	}

	t.Setenv("DASHBOARD_ENV_BOOL_KEY", "nope")
	if _, err := Bool("DASHBOARD_ENV_BOOL_KEY", false); err == nil {
		t.Fatalf("Bool() expected error")
	}
}

func TestInt(t *testing.T) {
	got, err := Int("DASHBOARD_ENV_INT_DOES_NOT_EXIST", 42)
	if err != nil {
		t.Fatalf("Int() err=%v", err)
	}
	if got != 42 {
		t.Fatalf("Int()=%v, want 42", got)
	}

	t.Setenv("DASHBOARD_ENV_INT_KEY", "nope")
	if _, err := Int("DASHBOARD_ENV_INT_KEY", 42); err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestBaseURL(t *testing.T) {
	t.Setenv("DASHBOARD_ENV_URL_KEY", "https://ci.example.test/jenkins/")
	got, err := BaseURL("DASHBOARD_ENV_URL_KEY", "")
	if err != nil {
		t.Fatalf("BaseURL() err=%v", err)
	}
	if got != "https://ci.example.test/jenkins" {
		t.Fatalf("BaseURL()=%q", got)
	}

	t.Setenv("DASHBOARD_ENV_URL_KEY", "ftp://ci.example.test")
	if _, err := BaseURL("DASHBOARD_ENV_URL_KEY", ""); err == nil {
		t.Fatalf("BaseURL() expected error for non-http scheme")
	}
}
