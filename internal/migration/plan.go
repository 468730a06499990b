package migration

import (
	"sort"
	"time"

	"telesis/internal/model"
)

// CreateExecutionPlan batches pending tasks topologically: a task enters the
// earliest batch where every dependency already belongs to an earlier batch
// (or has completed). Cycles and unknown dependencies halt planning for the
// affected tasks deterministically and are reported with the offending ids;
// the schedulable subset is still returned.
func (s *Scheduler) CreateExecutionPlan() ([][]string, error) {
	s.mu.RLock()
	tasks := make(map[string]model.MigrationTask, len(s.tasks))
	ids := append([]string(nil), s.order...)
	for id, task := range s.tasks {
		tasks[id] = *task
	}
	s.mu.RUnlock()

	offending := map[string]string{}

	// Reject tasks that declare unknown dependency ids.
	for _, id := range ids {
		for _, dep := range tasks[id].Dependencies {
			if _, known := tasks[dep]; !known {
				offending[id] = "unknown dependency " + dep
			}
		}
	}

	// Depth-first search with recursion-stack marking over the remaining
	// graph; every member of an unresolved cycle is reported, never dropped
	// silently.
	for _, id := range detectCycles(ids, tasks, offending) {
		offending[id] = "dependency cycle"
	}

	// A dependent of a failed, cancelled or offending task is ineligible.
	blocked := map[string]bool{}
	for changed := true; changed; {
		changed = false
		for _, id := range ids {
			task := tasks[id]
			if task.Status != model.TaskPending || blocked[id] {
				continue
			}
			if _, bad := offending[id]; bad {
				continue
			}
			for _, dep := range task.Dependencies {
				depTask := tasks[dep]
				_, depOffending := offending[dep]
				if depOffending || blocked[dep] ||
					depTask.Status == model.TaskFailed ||
					depTask.Status == model.TaskCancelled ||
					depTask.Status == model.TaskRolledBack {
					blocked[id] = true
					changed = true
					break
				}
			}
		}
	}

	placed := map[string]int{}
	var batches [][]string
	for {
		var batch []string
		for _, id := range ids {
			task := tasks[id]
			if task.Status != model.TaskPending || blocked[id] {
				continue
			}
			if _, bad := offending[id]; bad {
				continue
			}
			if _, done := placed[id]; done {
				continue
			}
			ready := true
			for _, dep := range task.Dependencies {
				if tasks[dep].Status == model.TaskCompleted {
					continue
				}
				if _, earlier := placed[dep]; !earlier {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			break
		}
		sort.Slice(batch, func(i, j int) bool {
			if tasks[batch[i]].Priority != tasks[batch[j]].Priority {
				return tasks[batch[i]].Priority > tasks[batch[j]].Priority
			}
			return batch[i] < batch[j]
		})
		for _, id := range batch {
			placed[id] = len(batches)
		}
		batches = append(batches, batch)
	}

	if len(offending) > 0 {
		offendingIDs := make([]string, 0, len(offending))
		for id := range offending {
			offendingIDs = append(offendingIDs, id)
		}
		sort.Strings(offendingIDs)
		return batches, &model.SchedulingError{TaskIDs: offendingIDs, Reason: "unsatisfiable dependencies"}
	}
	return batches, nil
}

// detectCycles returns the ids that participate in a dependency cycle, using
// DFS with recursion-stack marking. Tasks already flagged as offending are
// skipped.
func detectCycles(ids []string, tasks map[string]model.MigrationTask, skip map[string]string) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := map[string]int{}
	stackIndex := map[string]int{}
	inCycle := map[string]bool{}
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		if _, skipped := skip[id]; skipped {
			state[id] = done
			return
		}
		state[id] = inStack
		stackIndex[id] = len(stack)
		stack = append(stack, id)

		for _, dep := range tasks[id].Dependencies {
			if _, known := tasks[dep]; !known {
				continue
			}
			switch state[dep] {
			case unvisited:
				visit(dep)
			case inStack:
				// Everything from dep to the top of the stack is on the cycle.
				for _, member := range stack[stackIndex[dep]:] {
					inCycle[member] = true
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(stackIndex, id)
		state[id] = done
	}

	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}

	out := make([]string, 0, len(inCycle))
	for id := range inCycle {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Progress is a read-only snapshot of scheduler state.
type Progress struct {
	Total           int     `json:"total"`
	Pending         int     `json:"pending"`
	InProgress      int     `json:"in_progress"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Cancelled       int     `json:"cancelled"`
	RolledBack      int     `json:"rolled_back"`
	PercentComplete float64 `json:"percent_complete"`
}

func (s *Scheduler) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p Progress
	p.Total = len(s.tasks)
	for _, task := range s.tasks {
		switch task.Status {
		case model.TaskPending:
			p.Pending++
		case model.TaskInProgress:
			p.InProgress++
		case model.TaskCompleted:
			p.Completed++
		case model.TaskFailed:
			p.Failed++
		case model.TaskCancelled:
			p.Cancelled++
		case model.TaskRolledBack:
			p.RolledBack++
		}
	}
	if p.Total > 0 {
		p.PercentComplete = float64(p.Completed) / float64(p.Total) * 100
	}
	return p
}

// EstimateTimeline derives an ETA: average per-task duration times remaining
// tasks, divided by the concurrency cap. Actual durations of completed tasks
// are preferred over caller estimates when available.
func (s *Scheduler) EstimateTimeline() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var actualTotal time.Duration
	actualCount := 0
	var estimatedTotal float64
	estimatedCount := 0
	remaining := 0

	for _, task := range s.tasks {
		if task.Status == model.TaskCompleted && task.StartedAt != nil && task.CompletedAt != nil {
			actualTotal += task.CompletedAt.Sub(*task.StartedAt)
			actualCount++
		}
		if task.EstimatedDurationMinutes > 0 {
			estimatedTotal += task.EstimatedDurationMinutes
			estimatedCount++
		}
		if task.Status == model.TaskPending || task.Status == model.TaskInProgress {
			remaining++
		}
	}
	if remaining == 0 {
		return 0
	}

	var perTask time.Duration
	switch {
	case actualCount > 0:
		perTask = actualTotal / time.Duration(actualCount)
	case estimatedCount > 0:
		perTask = time.Duration(estimatedTotal / float64(estimatedCount) * float64(time.Minute))
	default:
		return 0
	}
	return perTask * time.Duration(remaining) / time.Duration(s.cfg.MaxConcurrentMigrations)
}

// ResourceAllocation aggregates the estimated memory (KB) of pending tasks.
func (s *Scheduler) ResourceAllocation() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0.0
	for _, task := range s.tasks {
		if task.Status == model.TaskPending {
			total += task.EstimatedMemoryKB
		}
	}
	return total
}
