package delivery

import (
	"errors"
	"testing"
	"time"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
)

func TestStatusStoreLifecycle(t *testing.T) {
	s := newStatusStore(time.Minute)
	now := time.Now()
	msg := &Message{ID: "m1", CreatedAt: now, TTL: time.Minute}

	s.create(msg, StatusAccepted)

	info, err := s.get("m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if info.Status != StatusAccepted || info.Attempts != 0 {
		t.Fatalf("info = %+v", info)
	}

	if n := s.recordAttempt("m1", now); n != 1 {
		t.Fatalf("first attempt count = %d", n)
	}
	if n := s.recordAttempt("m1", now.Add(time.Second)); n != 2 {
		t.Fatalf("second attempt count = %d", n)
	}
	info, _ = s.get("m1")
	if info.Status != StatusPending || info.Attempts != 2 {
		t.Fatalf("info after attempts = %+v", info)
	}
	if !info.LastAttempt.Equal(now.Add(time.Second)) {
		t.Fatalf("last attempt = %v", info.LastAttempt)
	}

	s.finish("m1", StatusFailed, ReasonDeliveryFailed)
	info, _ = s.get("m1")
	if info.Status != StatusFailed || info.Reason != ReasonDeliveryFailed {
		t.Fatalf("terminal info = %+v", info)
	}
}

func TestStatusStorePurge(t *testing.T) {
	s := newStatusStore(time.Minute)
	now := time.Now()
	s.create(&Message{ID: "old", CreatedAt: now.Add(-3 * time.Minute), TTL: time.Minute}, StatusDelivered)
	s.create(&Message{ID: "fresh", CreatedAt: now, TTL: time.Minute}, StatusAccepted)

	if n := s.purge(now); n != 1 {
		t.Fatalf("purged %d records, want 1", n)
	}
	if _, err := s.get("old"); !errors.Is(err, hberrors.ErrMessageNotFound) {
		t.Fatalf("purged record err = %v", err)
	}
	if _, err := s.get("fresh"); err != nil {
		t.Fatalf("fresh record purged: %v", err)
	}
}

func TestRecordAttemptUnknownID(t *testing.T) {
	s := newStatusStore(time.Minute)
	if n := s.recordAttempt("ghost", time.Now()); n != 0 {
		t.Fatalf("attempt on unknown id = %d, want 0", n)
	}
}
