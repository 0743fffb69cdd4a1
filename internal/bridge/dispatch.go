package bridge

import (
	"context"
	"errors"

	"github.com/nerrad567/venus-bridge/internal/device"
)

// queueSize bounds the backlog of one device. Dispatch blocks only when
// that device's own queue is full.
const queueSize = 256

type job struct {
	path  string
	value any
}

// worker applies the updates of one base path in arrival order.
type worker struct {
	base string
	jobs chan job
}

// Dispatch queues one Signal K reading on the worker of the device owning
// path and returns without waiting for it to be applied. Readings of one
// device are applied in the order they are dispatched; a device that is
// still registering on D-Bus holds back only its own readings.
func (b *Bridge) Dispatch(path string, value any) {
	typ, base, ok := device.Classify(path)
	if !ok || !b.enabled[typ] {
		b.recordSource(path, value)
		return
	}

	b.workersMu.Lock()
	if b.stopped {
		b.workersMu.Unlock()
		return
	}
	w, found := b.workers[base]
	if !found {
		w = &worker{base: base, jobs: make(chan job, queueSize)}
		b.workers[base] = w
		b.wg.Add(1)
		go b.work(w)
	}
	b.workersMu.Unlock()

	select {
	case w.jobs <- job{path: path, value: value}:
	case <-b.done:
	}
}

func (b *Bridge) work(w *worker) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case j := <-w.jobs:
			err := b.HandleUpdate(b.ctx, j.path, j.value)
			if err != nil && !errors.Is(err, device.ErrClosed) && !errors.Is(err, context.Canceled) {
				b.logger.Warn("signal k update dropped", "base_path", w.base, "path", j.path, "error", err)
			}
		}
	}
}

// stopWorkers stops every worker and waits for updates in progress.
// Queued updates are discarded.
func (b *Bridge) stopWorkers() {
	b.workersMu.Lock()
	if b.stopped {
		b.workersMu.Unlock()
		return
	}
	b.stopped = true
	b.workersMu.Unlock()

	close(b.done)
	b.cancel()
	b.wg.Wait()
}
