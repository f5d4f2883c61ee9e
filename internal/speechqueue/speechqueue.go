// Package speechqueue implements the orchestrator's three-tier priority
// speech queue (spec component C7): strict priority across P0/P1/P2, a
// per-tier capacity with oldest-evicted-first overflow, and deadline-based
// eviction that never touches P0.
package speechqueue

// Priority orders a SpeechJob's tier. Absolute: any P0 job preempts any
// P1/P2 job at pop time.
type Priority int

const (
	P0Safety Priority = iota
	P1ChatReply
	P2Commentary
)

func (p Priority) String() string {
	switch p {
	case P0Safety:
		return "p0_safety"
	case P1ChatReply:
		return "p1_chat_reply"
	case P2Commentary:
		return "p2_commentary"
	default:
		return "unknown"
	}
}

// Source names what produced a SpeechJob.
type Source int

const (
	SourceTelemetry Source = iota
	SourceFiller
	SourceActionSafety
)

func (s Source) String() string {
	switch s {
	case SourceTelemetry:
		return "telemetry"
	case SourceFiller:
		return "filler"
	case SourceActionSafety:
		return "action_safety"
	default:
		return "unknown"
	}
}

// Job is one unit of speech work: a line of text plus priority, deadline,
// and a dedupe key.
type Job struct {
	JobID      string
	Text       string
	Priority   Priority
	Source     Source
	EnqueuedMs uint64
	DeadlineMs uint64
	DedupeKey  string
}

// DropReason names why a job never reached the pipeline.
type DropReason string

const (
	ReasonQueueOverflow  DropReason = "queue_overflow"
	ReasonDeadlineExpired DropReason = "deadline_expired"
)

// Dropped pairs a dropped Job with the reason it was dropped.
type Dropped struct {
	Job    Job
	Reason DropReason
}

// Queue is the three-tier priority queue. Zero value is not usable; use New.
type Queue struct {
	p0, p1, p2   []Job
	maxP0, maxP1, maxP2 int
}

// New constructs a Queue with per-tier capacities.
func New(maxP0, maxP1, maxP2 int) *Queue {
	return &Queue{maxP0: maxP0, maxP1: maxP1, maxP2: maxP2}
}

func (q *Queue) tier(p Priority) (*[]Job, int) {
	switch p {
	case P0Safety:
		return &q.p0, q.maxP0
	case P1ChatReply:
		return &q.p1, q.maxP1
	default:
		return &q.p2, q.maxP2
	}
}

// Push appends job to its tier, evicting the oldest job in that tier first
// if it is already at capacity. The evicted job, if any, is returned.
func (q *Queue) Push(job Job) *Dropped {
	tier, cap := q.tier(job.Priority)
	var dropped *Dropped
	if cap > 0 && len(*tier) >= cap {
		old := (*tier)[0]
		*tier = (*tier)[1:]
		dropped = &Dropped{Job: old, Reason: ReasonQueueOverflow}
	}
	*tier = append(*tier, job)
	return dropped
}

// DropExpired removes every P1/P2 job whose deadline has passed. P0 jobs
// never expire.
func (q *Queue) DropExpired(nowMs uint64) []Dropped {
	var out []Dropped
	q.p1, out = drainExpired(q.p1, nowMs, out)
	q.p2, out = drainExpired(q.p2, nowMs, out)
	return out
}

func drainExpired(tier []Job, nowMs uint64, out []Dropped) ([]Job, []Dropped) {
	kept := tier[:0:0]
	for _, job := range tier {
		if job.DeadlineMs < nowMs {
			out = append(out, Dropped{Job: job, Reason: ReasonDeadlineExpired})
			continue
		}
		kept = append(kept, job)
	}
	return kept, out
}

// PopNext returns the next job to speak: strict priority P0 > P1 > P2.
// P0 jobs are always returned regardless of deadline; P1/P2 jobs whose
// deadline has already passed are silently skipped (and dropped) at pop
// time rather than returned.
func (q *Queue) PopNext(nowMs uint64) *Job {
	if job, ok := popFrom(&q.p0, nowMs, true); ok {
		return &job
	}
	if job, ok := popFrom(&q.p1, nowMs, false); ok {
		return &job
	}
	if job, ok := popFrom(&q.p2, nowMs, false); ok {
		return &job
	}
	return nil
}

func popFrom(tier *[]Job, nowMs uint64, neverExpire bool) (Job, bool) {
	for len(*tier) > 0 {
		job := (*tier)[0]
		*tier = (*tier)[1:]
		if neverExpire || job.DeadlineMs >= nowMs {
			return job, true
		}
	}
	return Job{}, false
}

// Len returns the combined length across all three tiers, for metrics.
func (q *Queue) Len() int { return len(q.p0) + len(q.p1) + len(q.p2) }
