package cron

import "context"

// Job is one unit of work executed on every tick.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry is the ordered job list for a tick. Names are unique; registering
// a name twice swaps the job in place.
type Registry struct {
	jobs  []Job
	index map[string]int
}

func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{index: make(map[string]int, len(jobs))}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register adds job. A nil job is a no-op so optional jobs can be passed through.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if pos, ok := r.index[job.Name()]; ok {
		r.jobs[pos] = job
		return
	}
	r.index[job.Name()] = len(r.jobs)
	r.jobs = append(r.jobs, job)
}

func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}
