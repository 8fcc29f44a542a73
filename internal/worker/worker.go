package worker

// JobKind tells a worker what to do with a job.
type JobKind int

const (
	Summary JobKind = iota
	Stop
)

// Job is one unit of background work for a meeting owner.
type Job struct {
	Kind      JobKind
	OwnerID   string
	MeetingID string
	Attempt   int
}

func (j Job) key() string {
	return j.OwnerID + "/" + j.MeetingID
}

type worker struct {
	id   int
	pool *jobChannelPool
	jobs chan Job
}

func newWorker(id int, pool *jobChannelPool) *worker {
	return &worker{id: id, pool: pool, jobs: make(chan Job)}
}

func (w *worker) start() {
	go func() {
		for job := range w.jobs {
			if job.Kind == Stop {
				w.pool.retire(w.jobs)
				return
			}
			w.pool.run(w.id, job)
			if !w.pool.release(w.jobs) {
				return
			}
		}
	}()
}
