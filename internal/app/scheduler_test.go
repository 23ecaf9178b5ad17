package app

import (
	"testing"
	"time"

	"github.com/finik/vpn-subscription-service/internal/config"
	"github.com/finik/vpn-subscription-service/internal/domain"
)

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	f := newSweepFixture(config.Config{})
	s := NewScheduler(f.sweeper, discardLogger(), config.Config{SweepSchedule: "every now and then"})

	if err := s.Start(); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestScheduler_RunsSweepAtStartup(t *testing.T) {
	f := newSweepFixture(config.Config{})
	f.repo.PutUser(domain.User{ID: 1, SubscriptionEnd: timePtr(testNow.Add(days(5)))})
	s := NewScheduler(f.sweeper, discardLogger(), config.Config{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !f.panel.has("user_1") {
		if time.Now().After(deadline) {
			t.Fatal("expected startup sweep to provision user_1")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
