package asynctask

import (
	"context"
	"testing"
	"time"
)

func newTestGroup(groupID string, taskIDs []string, timeout time.Time) *TaskGroup {
	group := &TaskGroup{
		GroupID: groupID,
		Status:  GroupStatusPending,
		Tasks:   make(map[string]*PendingTask, len(taskIDs)),
	}
	for _, id := range taskIDs {
		group.Tasks[id] = &PendingTask{TaskID: id, GroupID: groupID, Status: StatusPending, TimeoutTime: timeout}
	}
	return group
}

func TestInMemoryStore_CreateAndGetGroup(t *testing.T) {
	s := NewInMemoryStore()
	group := newTestGroup("g1", []string{"t1", "t2"}, time.Now().Add(time.Hour))

	if err := s.CreateGroup(context.Background(), group); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.CreateGroup(context.Background(), group); err == nil {
		t.Fatalf("expected an error creating a duplicate group id")
	}

	got, err := s.GetGroup(context.Background(), "g1")
	if err != nil || len(got.Tasks) != 2 {
		t.Fatalf("GetGroup: got=%+v err=%v", got, err)
	}
}

func TestInMemoryStore_GetTask(t *testing.T) {
	s := NewInMemoryStore()
	group := newTestGroup("g1", []string{"t1"}, time.Now().Add(time.Hour))
	_ = s.CreateGroup(context.Background(), group)

	task, err := s.GetTask(context.Background(), "t1")
	if err != nil || task.TaskID != "t1" {
		t.Fatalf("GetTask: got=%+v err=%v", task, err)
	}

	if _, err := s.GetTask(context.Background(), "missing"); err != ErrTaskNotFound {
		t.Fatalf("GetTask(missing) err = %v; want ErrTaskNotFound", err)
	}
}

func TestInMemoryStore_UpdateTask(t *testing.T) {
	s := NewInMemoryStore()
	group := newTestGroup("g1", []string{"t1", "t2"}, time.Now().Add(time.Hour))
	_ = s.CreateGroup(context.Background(), group)

	updated, err := s.UpdateTask(context.Background(), "t1", func(t *PendingTask) error {
		t.Status = StatusCompleted
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Tasks["t1"].Status != StatusCompleted {
		t.Fatalf("expected t1 completed")
	}
	if updated.AllDone() {
		t.Fatalf("group should not be all-done with t2 still pending")
	}
}

func TestInMemoryStore_SweepPendingFiltersByDeadline(t *testing.T) {
	s := NewInMemoryStore()
	past := newTestGroup("g1", []string{"t1"}, time.Now().Add(-time.Minute))
	future := newTestGroup("g2", []string{"t2"}, time.Now().Add(time.Hour))
	_ = s.CreateGroup(context.Background(), past)
	_ = s.CreateGroup(context.Background(), future)

	overdue, err := s.SweepPending(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("SweepPending: %v", err)
	}
	if len(overdue) != 1 || overdue[0].TaskID != "t1" {
		t.Fatalf("SweepPending = %+v; want only t1", overdue)
	}
}

func TestInMemoryStore_ListPendingForApprover(t *testing.T) {
	s := NewInMemoryStore()
	group := newTestGroup("g1", []string{"t1"}, time.Now().Add(time.Hour))
	group.GatewayID = "gw1"
	group.Tasks["t1"].ApproverList = []string{"alice", "bob"}
	_ = s.CreateGroup(context.Background(), group)

	got, err := s.ListPendingForApprover(context.Background(), "gw1", "bob")
	if err != nil || len(got) != 1 {
		t.Fatalf("ListPendingForApprover: got=%+v err=%v", got, err)
	}

	got, err = s.ListPendingForApprover(context.Background(), "gw1", "carol")
	if err != nil || len(got) != 0 {
		t.Fatalf("ListPendingForApprover(carol) = %+v; want empty", got)
	}

	got, err = s.ListPendingForApprover(context.Background(), "other-gw", "bob")
	if err != nil || len(got) != 0 {
		t.Fatalf("ListPendingForApprover(other-gw) = %+v; want empty", got)
	}
}
