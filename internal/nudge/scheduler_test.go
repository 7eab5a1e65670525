package nudge

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePlanner struct {
	mu    sync.Mutex
	users []string
}

func (p *fakePlanner) GeneratePlanForUser(ctx context.Context, user string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, user)
	return nil
}

type fakeUserLister struct{ users []string }

func (l *fakeUserLister) Users(ctx context.Context) ([]string, error) {
	return l.users, nil
}

func TestSchedulerRejectsBadPlanCron(t *testing.T) {
	n, _, _ := testNudger(t)
	s := NewScheduler(n, &fakePlanner{}, &fakeUserLister{}, "not a cron spec", time.Minute, nil)

	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatal("start accepted an invalid cron expression")
	}
}

func TestSchedulerGeneratesPlansForEveryUser(t *testing.T) {
	n, _, _ := testNudger(t)
	planner := &fakePlanner{}
	s := NewScheduler(n, planner, &fakeUserLister{users: []string{"alice", "bob"}}, "0 6 * * *", time.Minute, nil)

	s.generateAllPlans(context.Background())

	planner.mu.Lock()
	defer planner.mu.Unlock()
	if len(planner.users) != 2 || planner.users[0] != "alice" || planner.users[1] != "bob" {
		t.Fatalf("planned users = %v, want [alice bob]", planner.users)
	}
}
