package core

import (
	"errors"
	"sync"
)

var (
	ErrNoWorkers           = errors.New("attempting to create worker pool with less than 1 worker")
	ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
	ErrJobSystemStopped    = errors.New("job system is shut down")
)

// Job is one unit of work. It must not touch main-thread state.
type Job func() error

type queuedJob struct {
	run  Job
	done chan error
}

// JobSystem runs jobs on a fixed number of worker goroutines.
type JobSystem struct {
	numWorkers int
	jobQueue   chan queuedJob
	wg         sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan queuedJob, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				job.done <- job.run()
			}
		}()
	}
}

func (js *JobSystem) Workers() int { return js.numWorkers }

// Submit queues fn and returns a channel that receives its result. It
// blocks while the queue is full.
func (js *JobSystem) Submit(fn Job) <-chan error {
	done := make(chan error, 1)
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.stopped {
		done <- ErrJobSystemStopped
		return done
	}
	js.jobQueue <- queuedJob{run: fn, done: done}
	return done
}

// Run submits every job and waits for all of them. The errors are joined.
func (js *JobSystem) Run(jobs ...Job) error {
	results := make([]<-chan error, 0, len(jobs))
	for _, j := range jobs {
		results = append(results, js.Submit(j))
	}
	var errs []error
	for _, r := range results {
		if err := <-r; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

/**
 * @brief Shuts the job system down. Queued jobs still run, Submit fails
 * from now on. Safe to call more than once.
 */
func (js *JobSystem) Shutdown() {
	js.mu.Lock()
	if js.stopped {
		js.mu.Unlock()
		return
	}
	js.stopped = true
	close(js.jobQueue)
	js.mu.Unlock()
	js.wg.Wait()
}
