package history

import (
	"context"
	"math"
	"sync"
	"time"
)

// maxIntegrationGap is the longest gap between samples that is integrated.
const maxIntegrationGap = time.Hour

// Default saver cadences.
const (
	DefaultSaveInterval    = 60 * time.Second
	DefaultMinSaveInterval = time.Second
)

// Logger is the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures an Engine.
type Options struct {
	// SaveInterval is the periodic save cadence. Default: 60s.
	SaveInterval time.Duration

	// MinSaveInterval throttles update-triggered saves. Default: 1s.
	MinSaveInterval time.Duration
}

// Engine holds the history of every battery.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Saves run on a single goroutine started by Start.
type Engine struct {
	store *Store
	opts  Options

	mu           sync.Mutex
	records      map[string]Record
	accumulators map[string]Accumulator
	lastUpdate   map[string]int64
	dirty        bool

	saveReq  chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
	started  bool

	logger Logger
}

// NewEngine creates an engine persisting through store.
func NewEngine(store *Store, opts Options) *Engine {
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = DefaultSaveInterval
	}
	if opts.MinSaveInterval <= 0 {
		opts.MinSaveInterval = DefaultMinSaveInterval
	}
	return &Engine{
		store:        store,
		opts:         opts,
		records:      make(map[string]Record),
		accumulators: make(map[string]Accumulator),
		lastUpdate:   make(map[string]int64),
		saveReq:      make(chan struct{}, 1),
		stop:         make(chan struct{}),
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Load restores state from the store. A corrupt file has already been moved
// aside by the store; the engine starts empty and the error is returned for
// logging only.
func (e *Engine) Load() error {
	st, err := e.store.Load()

	e.mu.Lock()
	e.records = st.HistoryData
	e.accumulators = st.EnergyAccumulators
	e.lastUpdate = st.LastUpdateTime
	n := len(e.records)
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("history file unusable, starting empty", "path", e.store.Path(), "error", err)
		return err
	}
	e.logger.Info("battery history loaded", "path", e.store.Path(), "batteries", n)
	return nil
}

// Update applies one sample to the battery at basePath and returns the new
// record.
func (e *Engine) Update(basePath string, s Sample) Record {
	e.mu.Lock()
	rec := e.integrate(basePath, s)
	e.mu.Unlock()

	e.requestSave()
	return rec
}

// integrate must be called with e.mu held.
func (e *Engine) integrate(basePath string, s Sample) Record {
	rec := e.records[basePath]
	acc, hasAcc := e.accumulators[basePath]

	voltageOK := finite(s.Voltage)
	currentOK := finite(s.Current)
	powerOK := finite(s.Power)
	nowMs := s.Time.UnixMilli()

	if voltageOK {
		if rec.MinVoltage == 0 || s.Voltage < rec.MinVoltage {
			rec.MinVoltage = s.Voltage
		}
		if rec.MaxVoltage == 0 || s.Voltage > rec.MaxVoltage {
			rec.MaxVoltage = s.Voltage
		}
	}

	seed := func() {
		if currentOK {
			acc.LastCurrent = s.Current
		}
		if voltageOK {
			acc.LastVoltage = s.Voltage
		}
		acc.LastTimestamp = nowMs
	}

	elapsed := time.Duration(nowMs-acc.LastTimestamp) * time.Millisecond
	switch {
	case !hasAcc || acc.LastTimestamp == 0:
		seed()

	case elapsed > 0 && elapsed < maxIntegrationGap:
		if currentOK {
			hours := elapsed.Hours()

			watts := math.NaN()
			switch {
			case powerOK:
				watts = s.Power
			case voltageOK:
				watts = s.Voltage * s.Current
			}
			if finite(watts) {
				energy := math.Abs(watts) * hours / 1000
				if s.Current < 0 {
					rec.DischargedEnergy += energy
				} else if s.Current > 0 {
					rec.ChargedEnergy += energy
				}
			}

			if finite(s.SourceA) && finite(s.SourceB) {
				if load := (s.SourceA + s.SourceB) - s.Current; load > 0 {
					rec.TotalAhDrawn += load * hours
				}
			} else if s.Current < 0 {
				rec.TotalAhDrawn += math.Abs(s.Current) * hours
			}

			seed()
		}

	case elapsed >= maxIntegrationGap || elapsed < 0:
		seed()
	}

	rec.sanitize()
	acc.sanitize()
	e.records[basePath] = rec
	e.accumulators[basePath] = acc
	e.lastUpdate[basePath] = nowMs
	e.dirty = true
	return rec
}

// Record returns the current record for basePath.
func (e *Engine) Record(basePath string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.records[basePath]
	return r, ok
}

// Snapshot returns a copy of the engine state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() State {
	st := NewState()
	for k, v := range e.records {
		st.HistoryData[k] = v
	}
	for k, v := range e.accumulators {
		st.EnergyAccumulators[k] = v
	}
	for k, v := range e.lastUpdate {
		st.LastUpdateTime[k] = v
	}
	return st
}

// Save writes the current state synchronously.
func (e *Engine) Save() error {
	e.mu.Lock()
	st := e.snapshotLocked()
	e.dirty = false
	e.mu.Unlock()

	if err := e.store.Save(st); err != nil {
		e.mu.Lock()
		e.dirty = true
		e.mu.Unlock()
		return err
	}
	return nil
}

func (e *Engine) requestSave() {
	select {
	case e.saveReq <- struct{}{}:
	default:
	}
}

// Start runs the saver loop until ctx is cancelled or Close is called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.saveLoop(ctx)
}

// saveLoop serializes every save. A request arriving within MinSaveInterval
// of the previous save is delayed; the snapshot is taken when the save runs,
// so the latest state always wins.
func (e *Engine) saveLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.SaveInterval)
	defer ticker.Stop()

	var (
		lastSave time.Time
		pending  <-chan time.Time
	)

	save := func(reason string) {
		e.mu.Lock()
		dirty := e.dirty
		e.mu.Unlock()
		if !dirty {
			return
		}
		if err := e.Save(); err != nil {
			e.logger.Error("saving battery history", "reason", reason, "error", err)
			return
		}
		lastSave = time.Now()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			save("periodic")
		case <-e.saveReq:
			if pending != nil {
				continue
			}
			wait := e.opts.MinSaveInterval - time.Since(lastSave)
			if wait <= 0 {
				save("update")
				continue
			}
			pending = time.After(wait)
		case <-pending:
			pending = nil
			save("update")
		}
	}
}

// Close stops the saver loop and performs a final save.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()

	e.mu.Lock()
	dirty := e.dirty
	e.mu.Unlock()
	if !dirty {
		return nil
	}
	if err := e.Save(); err != nil {
		e.logger.Error("final history save failed", "error", err)
		return err
	}
	return nil
}
