package observability_test

import (
	"testing"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/observability"
)

func TestSnapshot_CountsRegistrations(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrRegistration(domain.ResultMember, "success")
	m.IncrRegistration(domain.ResultMember, "success")
	m.IncrRegistration(domain.ResultFriend, "success")
	m.IncrRegistration(domain.ResultFriend, "error")
	m.IncrRegistration(domain.ResultMember, "capacity")
	m.IncrDuplicate(domain.DuplicateBlockedCrossCampaign)
	m.IncrReconcile("ok")

	s := m.Snapshot()
	if s.MembersRegistered != 2 {
		t.Errorf("expected 2 members, got %d", s.MembersRegistered)
	}
	if s.FriendsRegistered != 1 {
		t.Errorf("expected 1 friend, got %d", s.FriendsRegistered)
	}
	if s.RegistrationsFailed != 1 {
		t.Errorf("expected 1 failure, got %d", s.RegistrationsFailed)
	}
	if s.CapacityRejected != 1 {
		t.Errorf("expected 1 capacity rejection, got %d", s.CapacityRejected)
	}
	if s.DuplicatesCross != 1 || s.DuplicatesSame != 0 {
		t.Errorf("unexpected duplicate counters: %+v", s)
	}
	if s.ReconcileOK != 1 {
		t.Errorf("expected 1 reconcile, got %d", s.ReconcileOK)
	}
}
