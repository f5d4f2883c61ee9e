package speechqueue

import "testing"

func TestQueue_KeepsPriorityOrder(t *testing.T) {
	q := New(10, 10, 10)
	q.Push(Job{JobID: "p2", Priority: P2Commentary})
	q.Push(Job{JobID: "p0", Priority: P0Safety})
	q.Push(Job{JobID: "p1", Priority: P1ChatReply})

	want := []string{"p0", "p1", "p2"}
	for _, id := range want {
		job := q.PopNext(0)
		if job == nil || job.JobID != id {
			t.Fatalf("expected %q next, got %+v", id, job)
		}
	}
	if job := q.PopNext(0); job != nil {
		t.Fatalf("expected empty queue, got %+v", job)
	}
}

func TestQueue_DropsExpiredNonP0(t *testing.T) {
	q := New(10, 10, 10)
	q.Push(Job{JobID: "p2", Priority: P2Commentary, DeadlineMs: 1})
	q.Push(Job{JobID: "p0", Priority: P0Safety, DeadlineMs: 1})

	dropped := q.DropExpired(2)
	if len(dropped) != 1 || dropped[0].Job.JobID != "p2" || dropped[0].Reason != ReasonDeadlineExpired {
		t.Fatalf("expected exactly one dropped p2 job, got %+v", dropped)
	}

	job := q.PopNext(2)
	if job == nil || job.JobID != "p0" {
		t.Fatalf("expected p0 job to survive, got %+v", job)
	}
}

func TestQueue_P0NeverDroppedByDeadline(t *testing.T) {
	q := New(10, 10, 10)
	q.Push(Job{JobID: "p0-stale", Priority: P0Safety, DeadlineMs: 1})

	dropped := q.DropExpired(1_000_000)
	if len(dropped) != 0 {
		t.Fatalf("expected P0 jobs to be exempt from deadline eviction, got %+v", dropped)
	}
	job := q.PopNext(1_000_000)
	if job == nil || job.JobID != "p0-stale" {
		t.Fatalf("expected stale p0 job to still be returned, got %+v", job)
	}
}

func TestQueue_PopNextSkipsAndDropsExpiredP1Entries(t *testing.T) {
	q := New(10, 10, 10)
	q.Push(Job{JobID: "stale", Priority: P1ChatReply, DeadlineMs: 1})
	q.Push(Job{JobID: "fresh", Priority: P1ChatReply, DeadlineMs: 100})

	job := q.PopNext(50)
	if job == nil || job.JobID != "fresh" {
		t.Fatalf("expected stale entry skipped and fresh entry returned, got %+v", job)
	}
	if job := q.PopNext(50); job != nil {
		t.Fatalf("expected queue drained, got %+v", job)
	}
}

func TestQueue_PushEvictsOldestOnOverflow(t *testing.T) {
	q := New(1, 1, 1)
	first := Job{JobID: "first", Priority: P2Commentary}
	second := Job{JobID: "second", Priority: P2Commentary}

	if dropped := q.Push(first); dropped != nil {
		t.Fatalf("expected no eviction on first push, got %+v", dropped)
	}
	dropped := q.Push(second)
	if dropped == nil || dropped.Job.JobID != "first" || dropped.Reason != ReasonQueueOverflow {
		t.Fatalf("expected first job evicted on overflow, got %+v", dropped)
	}

	job := q.PopNext(0)
	if job == nil || job.JobID != "second" {
		t.Fatalf("expected surviving job to be second, got %+v", job)
	}
}

func TestQueue_Len(t *testing.T) {
	q := New(10, 10, 10)
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got len %d", q.Len())
	}
	q.Push(Job{JobID: "a", Priority: P0Safety})
	q.Push(Job{JobID: "b", Priority: P1ChatReply})
	q.Push(Job{JobID: "c", Priority: P2Commentary})
	if q.Len() != 3 {
		t.Fatalf("expected len 3, got %d", q.Len())
	}
}
