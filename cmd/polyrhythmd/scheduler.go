package main

// ============================================================================
// Cooperative Scheduler
// ============================================================================
// Every timing-sensitive piece of the module (rhythm tracks, pulse fades,
// the play/submit timers, the solve animation, automation and replay polling)
// is a Task stepped once per Tick by the daemon goroutine.
//
// Rules:
//   - All tasks stepped within one Tick observe the same Tick (and Clock reading).
//   - A task spawned while the scheduler is stepping first runs on the next Tick.
//   - The TaskID is the cancellation token; Cancel takes effect immediately, so a
//     cancelled task never runs again, even later within the same Tick.
// ============================================================================

// TaskID identifies a spawned task. The zero TaskID is never issued.
type TaskID uint64

// Task is a cooperatively scheduled unit of work.
// Step returns true once the task has finished.
type Task interface {
	Step(tk Tick, out *outbox) bool
}

// TaskFunc adapts a plain function into a Task.
type TaskFunc func(tk Tick, out *outbox) bool

func (f TaskFunc) Step(tk Tick, out *outbox) bool { return f(tk, out) }

type scheduledTask struct {
	id   TaskID
	name string
	task Task
	done bool
}

// Scheduler owns the ordered task list. It is not safe for concurrent use;
// it is only touched by the daemon goroutine.
type Scheduler struct {
	nextID TaskID
	tasks  []*scheduledTask
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Spawn appends a task and returns its cancellation token.
func (s *Scheduler) Spawn(name string, t Task) TaskID {
	s.nextID++
	s.tasks = append(s.tasks, &scheduledTask{id: s.nextID, name: name, task: t})
	return s.nextID
}

// Cancel stops the task identified by id. It reports whether a live task was cancelled.
func (s *Scheduler) Cancel(id TaskID) bool {
	if id == 0 {
		return false
	}
	for _, st := range s.tasks {
		if st.id == id && !st.done {
			st.done = true
			return true
		}
	}
	return false
}

// Running reports whether the task identified by id is still live.
func (s *Scheduler) Running(id TaskID) bool {
	if id == 0 {
		return false
	}
	for _, st := range s.tasks {
		if st.id == id {
			return !st.done
		}
	}
	return false
}

// Names returns the names of live tasks in scheduling order.
func (s *Scheduler) Names() []string {
	var names []string
	for _, st := range s.tasks {
		if !st.done {
			names = append(names, st.name)
		}
	}
	return names
}

// Step advances every live task once.
func (s *Scheduler) Step(tk Tick, out *outbox) {
	// Only tasks that existed when the tick began are stepped.
	n := len(s.tasks)
	for i := 0; i < n; i++ {
		st := s.tasks[i]
		if st.done {
			continue
		}
		if st.task.Step(tk, out) {
			st.done = true
		}
	}

	live := s.tasks[:0]
	for _, st := range s.tasks {
		if !st.done {
			live = append(live, st)
		}
	}
	for i := len(live); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = live
}

// outbox collects what reducing a single event produced.
type outbox struct {
	commands   []Command
	broadcasts []StateBroadcast
}

func (o *outbox) command(c Command) {
	o.commands = append(o.commands, c)
}

func (o *outbox) broadcast(b StateBroadcast) {
	o.broadcasts = append(o.broadcasts, b)
}
