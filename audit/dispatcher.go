package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Options configures a Dispatcher.
type Options struct {
	// Async hands entries to a background goroutine through a buffer of
	// BufferSize. Synchronous dispatch writes inline and still never
	// returns the sink's error to the caller.
	Async      bool
	BufferSize int
	// DropIfFull drops entries instead of blocking when the buffer is full.
	DropIfFull bool
	// WriteTimeout bounds each asynchronous sink write. Zero means 5s.
	WriteTimeout time.Duration
	Logger       *slog.Logger
	// OnFailure is invoked for every dropped or failed entry.
	OnFailure func(entry Entry, err error)
}

// Dispatcher stamps entries and forwards them to a Sink. Failures are
// counted and logged at Warn; they never surface to the audited operation.
type Dispatcher struct {
	opts   Options
	sink   Sink
	logger *slog.Logger

	ch        chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closeOnce sync.Once

	// mu orders enqueues before Close: senders hold it for reading, so
	// once Close has taken it every accepted entry is already in ch.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher for sink. Async dispatchers must be
// closed to flush buffered entries.
func NewDispatcher(sink Sink, opts Options) *Dispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		opts:   opts,
		sink:   sink,
		logger: opts.Logger,
		done:   make(chan struct{}),
	}
	if opts.Async {
		d.ch = make(chan Entry, opts.BufferSize)
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.write(context.Background(), entry)
		case <-d.done:
			for {
				select {
				case entry := <-d.ch:
					d.write(context.Background(), entry)
				default:
					return
				}
			}
		}
	}
}

// Emit records entry. A missing ID or Timestamp is filled in. Entries
// emitted after Close are counted as dropped.
func (d *Dispatcher) Emit(ctx context.Context, entry Entry) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		d.report(entry, errClosed)
		return
	}

	if !d.opts.Async {
		d.write(ctx, entry)
		return
	}

	if d.opts.DropIfFull {
		select {
		case d.ch <- entry:
		default:
			d.dropped.Add(1)
			d.report(entry, errBufferFull)
		}
		return
	}

	select {
	case d.ch <- entry:
	case <-ctx.Done():
		d.dropped.Add(1)
		d.report(entry, ctx.Err())
	}
}

func (d *Dispatcher) write(ctx context.Context, entry Entry) {
	if d.opts.Async {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.WriteTimeout)
		defer cancel()
	}
	if err := d.sink.Write(ctx, entry); err != nil {
		d.failed.Add(1)
		d.report(entry, err)
	}
}

func (d *Dispatcher) report(entry Entry, err error) {
	d.logger.Warn("audit entry not recorded",
		"action", entry.Action,
		"user_id", entry.UserID,
		"error", err,
	)
	if d.opts.OnFailure != nil {
		d.opts.OnFailure(entry, err)
	}
}

// Close stops accepting entries and flushes the buffer. It waits for
// in-flight Emit calls, so every accepted entry reaches the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many entries were discarded before reaching the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns how many sink writes returned an error.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
