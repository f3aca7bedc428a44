package eventbus

import (
	"errors"
	"testing"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
)

func TestSubscriptionStoreValidation(t *testing.T) {
	s := NewSubscriptionStore()

	if _, err := s.Add("", []Type{TypeAudit}, "http://x"); !errors.Is(err, hberrors.ErrInvalidSubscription) {
		t.Fatalf("empty service err = %v", err)
	}
	if _, err := s.Add("svc", []Type{TypeAudit}, ""); !errors.Is(err, hberrors.ErrInvalidSubscription) {
		t.Fatalf("empty url err = %v", err)
	}
	if _, err := s.Add("svc", nil, "http://x"); !errors.Is(err, hberrors.ErrInvalidSubscription) {
		t.Fatalf("no tags err = %v", err)
	}
	if _, err := s.Add("svc", []Type{"rumor"}, "http://x"); !errors.Is(err, hberrors.ErrInvalidSubscription) {
		t.Fatalf("unknown tag err = %v", err)
	}
	if _, err := s.AddStream("svc", []Type{TypeAudit}, nil); !errors.Is(err, hberrors.ErrInvalidSubscription) {
		t.Fatalf("nil push err = %v", err)
	}
}

func TestSubscriptionMatching(t *testing.T) {
	s := NewSubscriptionStore()

	if _, err := s.Add("a", []Type{TypeAudit, TypeError}, "http://a"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Add("b", []Type{TypeBusiness}, "http://b"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := len(s.Matching(TypeAudit)); got != 1 {
		t.Fatalf("audit matches = %d", got)
	}
	if got := len(s.Matching(TypeError)); got != 1 {
		t.Fatalf("error matches = %d", got)
	}
	if got := len(s.Matching(TypeLifecycle)); got != 0 {
		t.Fatalf("lifecycle matches = %d", got)
	}
}

func TestRemoveOwned(t *testing.T) {
	s := NewSubscriptionStore()
	for i := 0; i < 3; i++ {
		if _, err := s.Add("dashboard", []Type{TypeAudit}, "http://d"); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if _, err := s.Add("billing", []Type{TypeAudit}, "http://b"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if n := s.RemoveOwned("dashboard"); n != 3 {
		t.Fatalf("removed = %d, want 3", n)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	if n := s.RemoveOwned("dashboard"); n != 0 {
		t.Fatalf("second remove = %d", n)
	}
}
