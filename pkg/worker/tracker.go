package worker

// FailureTracker counts consecutive handler failures per job id.
//
// A tracker belongs to one Loop and therefore to one worker process. A
// respawned worker starts with an empty tracker, so a job that keeps
// failing across several respawns can be attempted more often than the
// threshold allows before it is buried.
//
// FailureTracker is not safe for concurrent use; the loop handles one job
// at a time.
type FailureTracker struct {
	threshold int
	counts    map[string]int
}

// NewFailureTracker returns an empty tracker. A threshold below 1 is
// treated as 1, which buries on the first failure.
func NewFailureTracker(threshold int) *FailureTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &FailureTracker{threshold: threshold, counts: map[string]int{}}
}

// Threshold returns the failure count at which a job is buried.
func (t *FailureTracker) Threshold() int { return t.threshold }

// Count returns the failures recorded for id, zero for an unseen job.
func (t *FailureTracker) Count(id string) int { return t.counts[id] }

// Fail records one more failure for id. exhausted is true once the count
// has passed threshold-1; the caller buries the job and calls Forget.
func (t *FailureTracker) Fail(id string) (count int, exhausted bool) {
	t.counts[id]++
	count = t.counts[id]
	return count, count > t.threshold-1
}

// Forget drops the entry for id.
func (t *FailureTracker) Forget(id string) { delete(t.counts, id) }

// Len returns the number of tracked jobs.
func (t *FailureTracker) Len() int { return len(t.counts) }
