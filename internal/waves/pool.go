package waves

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"
)

// Job describes one decomposition request. Jobs are owned by the pool once
// submitted; the request handler cannot cancel them.
type Job struct {
	SessionID    string
	TurnIndex    int    // 1-3, or 4 for the summary
	Kind         string // response | comment | reply | summary
	SourceSlotID int    // 0 for the summary

	AgentID      string
	VoiceProfile string
	SummaryText  string

	SourceAudioPath string
	OutputDir       string
	RelDir          string
	TargetSlots     []int

	SubmittedAt time.Time
}

// Result is published on the pool's result channel for every finished job,
// success or not.
type Result struct {
	Job        Job
	Tracks     []Track
	Metrics    Metrics
	Success    bool
	Error      string
	DurationMs float64
}

// Pool runs decomposition jobs on a bounded set of workers. Submission never
// blocks: a full queue drops the job with a warning. Results go to the result
// channel whether or not the originating request has already returned; a
// result is dropped with a warning only when that channel's buffer is full.
type Pool struct {
	jobs    chan Job
	results chan Result

	workers      int
	jobTimeout   time.Duration
	processingSR int

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewPool builds a pool with the given worker count, queue capacity and
// per-job wall-clock timeout.
func NewPool(workers, queueSize int, jobTimeout time.Duration, processingSR int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if processingSR <= 0 {
		processingSR = 8000
	}
	return &Pool{
		jobs:         make(chan Job, queueSize),
		results:      make(chan Result, 256),
		workers:      workers,
		jobTimeout:   jobTimeout,
		processingSR: processingSR,
	}
}

// Results is the channel the event orchestrator consumes.
func (p *Pool) Results() <-chan Result { return p.results }

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		log.Println("waves: pool already running")
		return
	}
	p.running = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("waves: pool started workers=%d queue=%d timeout=%s", p.workers, cap(p.jobs), p.jobTimeout)
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
	log.Println("waves: pool stopped")
}

// Submit enqueues a job without blocking. Returns false when the queue is
// full or the pool is not running; the job is dropped with a warning.
func (p *Pool) Submit(job Job) bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		log.Printf("waves: pool not running, dropped %s", filepath.Base(job.SourceAudioPath))
		return false
	}
	job.SubmittedAt = time.Now()
	select {
	case p.jobs <- job:
		log.Printf("waves: queued session=%s turn=%d file=%s", job.SessionID, job.TurnIndex, filepath.Base(job.SourceAudioPath))
		return true
	default:
		log.Printf("waves: queue full, dropped session=%s turn=%d file=%s", job.SessionID, job.TurnIndex, filepath.Base(job.SourceAudioPath))
		return false
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.publish(p.process(id, job))
	}
}

// process runs one decomposition with a hard wall-clock timeout. A job that
// overruns is reported as wave_timeout; the stray computation finishes in the
// background and its late result is discarded.
func (p *Pool) process(workerID int, job Job) Result {
	start := time.Now()
	type outcome struct {
		tracks  []Track
		metrics Metrics
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		tracks, metrics, err := Decompose(job.SourceAudioPath, job.OutputDir, job.RelDir, job.TurnIndex, job.TargetSlots, p.processingSR)
		done <- outcome{tracks: tracks, metrics: metrics, err: err}
	}()

	timer := time.NewTimer(p.jobTimeout)
	defer timer.Stop()
	select {
	case out := <-done:
		if out.err != nil {
			log.Printf("waves: worker %d failed session=%s turn=%d: %v", workerID, job.SessionID, job.TurnIndex, out.err)
			return Result{Job: job, Success: false, Error: out.err.Error(), DurationMs: elapsedMs(start)}
		}
		log.Printf("waves: worker %d done session=%s turn=%d tracks=%d rmse=%.4f in %.0fms",
			workerID, job.SessionID, job.TurnIndex, len(out.tracks), out.metrics.RMSE, elapsedMs(start))
		return Result{Job: job, Tracks: out.tracks, Metrics: out.metrics, Success: true, DurationMs: elapsedMs(start)}
	case <-timer.C:
		log.Printf("waves: worker %d timeout session=%s turn=%d after %s", workerID, job.SessionID, job.TurnIndex, p.jobTimeout)
		return Result{Job: job, Success: false, Error: fmt.Sprintf("wave_timeout after %s", p.jobTimeout), DurationMs: elapsedMs(start)}
	}
}

// publish hands a result to the consumer without ever blocking a worker.
func (p *Pool) publish(r Result) {
	select {
	case p.results <- r:
	default:
		log.Printf("waves: results channel full, dropped result for session=%s", r.Job.SessionID)
	}
}
