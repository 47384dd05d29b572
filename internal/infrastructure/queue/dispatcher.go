package queue

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
)

// Gauge tracks the number of queued tasks. prometheus.Gauge satisfies it.
type Gauge interface {
	Inc()
	Dec()
}

type job struct {
	key  string
	task func(ctx context.Context)
}

// Dispatcher routes reconciliation tasks to a fixed set of workers using
// consistent hashing on the task key, so tasks for one subscription scope run
// one at a time and in order.
type Dispatcher struct {
	workers []chan job
	depths  []Gauge
	log     zerolog.Logger

	startOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used. depth, when not nil, returns the
// queue gauge of one worker.
func NewDispatcher(numWorkers int, depth func(worker int) Gauge, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan job, numWorkers),
		depths:  make([]Gauge, numWorkers),
		log:     log,
		done:    make(chan struct{}),
	}
	for i := range d.workers {
		d.workers[i] = make(chan job, channelBuffer)
		if depth != nil {
			d.depths[i] = depth(i)
		}
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled;
// tasks still queued at that point are discarded.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i, ch := range d.workers {
			d.wg.Add(1)
			go d.runWorker(ctx, i, ch)
		}
		go func() {
			<-ctx.Done()
			close(d.done)
		}()
	})
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch queues task on the worker responsible for key. It blocks while that
// worker's buffer is full and drops the task once the dispatcher has stopped.
func (d *Dispatcher) Dispatch(key string, task func(ctx context.Context)) {
	idx := d.shardIndex(key)
	gauge := d.depths[idx]
	if gauge != nil {
		gauge.Inc()
	}
	select {
	case d.workers[idx] <- job{key: key, task: task}:
	case <-d.done:
		if gauge != nil {
			gauge.Dec()
		}
		d.log.Debug().Str("key", key).Msg("dispatcher stopped, task dropped")
	}
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan job) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-ch:
			if g := d.depths[id]; g != nil {
				g.Dec()
			}
			d.run(ctx, id, j)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Str("key", j.key).
				Int("worker_id", id).
				Msg("reconcile task panicked")
		}
	}()
	j.task(ctx)
}
