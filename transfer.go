package ftp

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/haldane/goftp/internal/ratelimit"
)

// TransferKind identifies the direction of a Transfer.
type TransferKind int

const (
	TransferDownload TransferKind = iota
	TransferUpload
	TransferAppend
)

func (k TransferKind) String() string {
	switch k {
	case TransferDownload:
		return "download"
	case TransferUpload:
		return "upload"
	case TransferAppend:
		return "append"
	default:
		return "unknown"
	}
}

// TransferStatus is the terminal/non-terminal state of a Transfer.
type TransferStatus int

const (
	StatusPending TransferStatus = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s TransferStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ProgressFunc is invoked as bytes move; total is 0 if unknown.
type ProgressFunc func(transferred, total int64)

// CompletionFunc is invoked exactly once when a transfer reaches a terminal
// status. result holds the downloaded bytes for in-memory downloads, nil
// otherwise.
type CompletionFunc func(t *Transfer, result []byte, err error)

// chunkSize is the streaming unit used by every transfer worker and the
// boundary at which the cancel flag is polled (spec §5).
const chunkSize = 8192

// Transfer is one in-flight or completed upload/download/append.
type Transfer struct {
	ID         int64
	Kind       TransferKind
	RemotePath string
	LocalPath  string // empty for in-memory transfers
	Offset     int64  // restart offset, 0 if not resuming
	TotalSize  int64  // 0 if unknown

	mu        sync.Mutex
	status    TransferStatus
	counter   int64
	lastErr   error
	startedAt time.Time
	endedAt   time.Time

	pauseGate  chan struct{} // closed == running; reopened on Pause
	cancelFlag atomic.Bool

	progress   ProgressFunc
	onComplete CompletionFunc
	limiter    *ratelimit.Limiter

	uploadData []byte // source bytes for in-memory uploads/appends
}

func newTransfer(id int64, kind TransferKind, remote string, opts TransferOptions) *Transfer {
	t := &Transfer{
		ID:         id,
		Kind:       kind,
		RemotePath: remote,
		LocalPath:  opts.LocalPath,
		Offset:     opts.Offset,
		TotalSize:  opts.TotalSize,
		status:     StatusPending,
		counter:    opts.Offset,
		pauseGate:  make(chan struct{}),
		progress:   opts.Progress,
		onComplete: opts.OnComplete,
		limiter:    opts.Limiter,
		uploadData: opts.Data,
	}
	close(t.pauseGate) // not paused initially
	return t
}

// TransferOptions configures a single Transfer at creation time.
type TransferOptions struct {
	LocalPath  string
	Data       []byte // in-memory source for uploads/appends
	Offset     int64
	TotalSize  int64
	Progress   ProgressFunc
	OnComplete CompletionFunc
	Limiter    *ratelimit.Limiter
}

// Status returns the transfer's current status.
func (t *Transfer) Status() TransferStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transfer) setStatus(s TransferStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// BytesTransferred returns the current byte counter.
func (t *Transfer) BytesTransferred() int64 {
	return atomic.LoadInt64(&t.counter)
}

// IsActive reports whether the transfer is running or paused.
func (t *Transfer) IsActive() bool {
	s := t.Status()
	return s == StatusRunning || s == StatusPaused
}

// IsComplete reports whether the transfer reached a terminal status.
func (t *Transfer) IsComplete() bool {
	switch t.Status() {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Percent returns progress as a percentage of TotalSize, or 0 if unknown.
func (t *Transfer) Percent() float64 {
	if t.TotalSize <= 0 {
		return 0
	}
	return float64(t.BytesTransferred()) / float64(t.TotalSize) * 100
}

// Speed returns the transfer's current throughput in bytes/second, or 0 if
// not running or not yet started.
func (t *Transfer) Speed() float64 {
	t.mu.Lock()
	started := t.startedAt
	status := t.status
	t.mu.Unlock()
	if status != StatusRunning || started.IsZero() {
		return 0
	}
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.BytesTransferred()) / elapsed
}

// Err returns the error the transfer failed with, if any.
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Pause cooperatively suspends a running transfer: the worker finishes its
// current chunk, then blocks on pauseGate until Resume reopens it.
func (t *Transfer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning {
		return
	}
	t.pauseGate = make(chan struct{})
	t.status = StatusPaused
}

// Resume reopens the pause gate for a paused transfer.
func (t *Transfer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPaused {
		return
	}
	close(t.pauseGate)
	t.status = StatusRunning
}

// Cancel raises the one-shot cancel flag; the worker observes it at the next
// chunkSize boundary, stops streaming, and transitions to StatusCancelled.
func (t *Transfer) Cancel() {
	t.cancelFlag.Store(true)
}

func (t *Transfer) waitUnlessCancelled() bool {
	t.mu.Lock()
	gate := t.pauseGate
	t.mu.Unlock()
	<-gate
	return !t.cancelFlag.Load()
}

// TransferManager runs the asynchronous upload/download/append workers,
// serialized over the single data-channel slot (spec §4.5, §5, §9: the
// semaphore is always constructed with weight 1; there is no knob to widen
// it).
type TransferManager struct {
	session *Session
	log     *slog.Logger

	sem *semaphore.Weighted

	mu        sync.Mutex
	transfers map[int64]*Transfer
	nextID    int64

	wg sync.WaitGroup

	metrics *transferMetrics
}

func newTransferManager(s *Session, log *slog.Logger, m *transferMetrics) *TransferManager {
	return &TransferManager{
		session:   s,
		log:       log,
		sem:       semaphore.NewWeighted(1),
		transfers: make(map[int64]*Transfer),
		metrics:   m,
	}
}

func (tm *TransferManager) register(kind TransferKind, remote string, opts TransferOptions) *Transfer {
	tm.mu.Lock()
	tm.nextID++
	id := tm.nextID
	tm.mu.Unlock()

	t := newTransfer(id, kind, remote, opts)

	tm.mu.Lock()
	tm.transfers[id] = t
	tm.mu.Unlock()

	return t
}

// Get returns the transfer with the given id, if it exists.
func (tm *TransferManager) Get(id int64) (*Transfer, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	t, ok := tm.transfers[id]
	return t, ok
}

// All returns every tracked transfer, in no particular order.
func (tm *TransferManager) All() []*Transfer {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]*Transfer, 0, len(tm.transfers))
	for _, t := range tm.transfers {
		out = append(out, t)
	}
	return out
}

// Active returns every transfer currently running or paused.
func (tm *TransferManager) Active() []*Transfer {
	var out []*Transfer
	for _, t := range tm.All() {
		if t.IsActive() {
			out = append(out, t)
		}
	}
	return out
}

// StartDownload spawns an asynchronous download worker and returns its
// Transfer record immediately (spec §4.3 asynchronous mode).
func (tm *TransferManager) StartDownload(remote string, endpoint *pendingDataEndpoint, opts TransferOptions) *Transfer {
	t := tm.register(TransferDownload, remote, opts)
	tm.wg.Add(1)
	go tm.downloadWorker(t, endpoint)
	return t
}

// StartUpload spawns an asynchronous upload worker.
func (tm *TransferManager) StartUpload(remote string, endpoint *pendingDataEndpoint, opts TransferOptions) *Transfer {
	t := tm.register(TransferUpload, remote, opts)
	tm.wg.Add(1)
	go tm.uploadWorker(t, endpoint)
	return t
}

// StartAppend spawns an asynchronous append worker.
func (tm *TransferManager) StartAppend(remote string, endpoint *pendingDataEndpoint, opts TransferOptions) *Transfer {
	t := tm.register(TransferAppend, remote, opts)
	tm.wg.Add(1)
	go tm.appendWorker(t, endpoint)
	return t
}

// CancelAll cancels every active transfer; used by Session.Close.
func (tm *TransferManager) CancelAll() {
	for _, t := range tm.Active() {
		t.Cancel()
	}
}

// WaitAll blocks until every worker finishes or ctx is done, whichever comes
// first (spec §5: callers blocked on close wait up to 5 seconds per
// worker for orderly shutdown).
func (tm *TransferManager) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (tm *TransferManager) acquireSlot(ctx context.Context) error {
	return tm.sem.Acquire(ctx, 1)
}

func (tm *TransferManager) releaseSlot() {
	tm.sem.Release(1)
}

func (tm *TransferManager) downloadWorker(t *Transfer, endpoint *pendingDataEndpoint) {
	defer tm.wg.Done()

	ctx := context.Background()
	if err := tm.acquireSlot(ctx); err != nil {
		tm.finish(t, nil, err)
		return
	}
	defer tm.releaseSlot()

	t.setStatus(StatusRunning)
	t.mu.Lock()
	t.startedAt = time.Now()
	t.mu.Unlock()
	if tm.metrics != nil {
		tm.metrics.incActive()
		defer tm.metrics.decActive()
	}

	dc, err := endpoint.connect(tm.session.timeout)
	if err != nil {
		tm.finish(t, nil, err)
		return
	}

	sink, buf, closeSink, err := tm.openSink(t)
	if err != nil {
		dc.Close()
		tm.finish(t, nil, err)
		return
	}

	reader := io.Reader(dc)
	if t.limiter != nil {
		reader = ratelimit.NewReader(dc, t.limiter)
	}

	chunk := make([]byte, chunkSize)
	var streamErr error
	for !t.cancelFlag.Load() {
		if !t.waitUnlessCancelled() {
			break
		}
		n, rerr := reader.Read(chunk)
		if n > 0 {
			if _, werr := sink.Write(chunk[:n]); werr != nil {
				streamErr = werr
				break
			}
			atomic.AddInt64(&t.counter, int64(n))
			if t.progress != nil {
				t.progress(t.BytesTransferred(), t.TotalSize)
			}
			if tm.metrics != nil {
				tm.metrics.observeBytes(TransferDownload, int64(n))
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				streamErr = rerr
			}
			break
		}
	}

	if closeSink != nil {
		closeSink()
	}
	dc.Close()

	// A cancelled transfer's trailing reply (or reply pair) is drained by
	// Session.Abort's ABOR handling, not here: reading it from both places
	// would race over the same control connection.
	if t.cancelFlag.Load() {
		t.setStatus(StatusCancelled)
		tm.finish(t, nil, nil)
		return
	}

	final, finalErr := tm.session.ctrl.recvReply()

	switch {
	case streamErr != nil:
		tm.finish(t, nil, streamErr)
	case finalErr != nil:
		tm.finish(t, nil, finalErr)
	case !final.IsSuccess():
		tm.finish(t, nil, &ProtocolError{Command: "RETR", Reply: final})
	default:
		var result []byte
		if t.LocalPath == "" {
			result = buf.Bytes()
			tm.session.setLastTransferPayload(result)
		}
		t.setStatus(StatusCompleted)
		tm.finishOK(t, result)
	}
}

func (tm *TransferManager) uploadWorker(t *Transfer, endpoint *pendingDataEndpoint) {
	tm.sendWorker(t, endpoint, "STOR")
}

func (tm *TransferManager) appendWorker(t *Transfer, endpoint *pendingDataEndpoint) {
	tm.sendWorker(t, endpoint, "APPE")
}

func (tm *TransferManager) sendWorker(t *Transfer, endpoint *pendingDataEndpoint, cmd string) {
	defer tm.wg.Done()

	ctx := context.Background()
	if err := tm.acquireSlot(ctx); err != nil {
		tm.finish(t, nil, err)
		return
	}
	defer tm.releaseSlot()

	t.setStatus(StatusRunning)
	t.mu.Lock()
	t.startedAt = time.Now()
	t.mu.Unlock()
	if tm.metrics != nil {
		tm.metrics.incActive()
		defer tm.metrics.decActive()
	}

	dc, err := endpoint.connect(tm.session.timeout)
	if err != nil {
		tm.finish(t, nil, err)
		return
	}

	source, closeSource, err := tm.openSource(t)
	if err != nil {
		dc.Close()
		tm.finish(t, nil, err)
		return
	}
	defer func() {
		if closeSource != nil {
			closeSource()
		}
	}()

	var writer io.Writer = dc
	if t.limiter != nil {
		writer = ratelimit.NewWriter(dc, t.limiter)
	}

	chunk := make([]byte, chunkSize)
	var streamErr error
	for !t.cancelFlag.Load() {
		if !t.waitUnlessCancelled() {
			break
		}
		n, rerr := source.Read(chunk)
		if n > 0 {
			if _, werr := writer.Write(chunk[:n]); werr != nil {
				streamErr = werr
				break
			}
			atomic.AddInt64(&t.counter, int64(n))
			if t.progress != nil {
				t.progress(t.BytesTransferred(), t.TotalSize)
			}
			if tm.metrics != nil {
				tm.metrics.observeBytes(t.Kind, int64(n))
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				streamErr = rerr
			}
			break
		}
	}

	dc.Close()

	if t.cancelFlag.Load() {
		t.setStatus(StatusCancelled)
		tm.finish(t, nil, nil)
		return
	}

	final, finalErr := tm.session.ctrl.recvReply()

	switch {
	case streamErr != nil:
		tm.finish(t, nil, streamErr)
	case finalErr != nil:
		tm.finish(t, nil, finalErr)
	case !final.IsSuccess():
		tm.finish(t, nil, &ProtocolError{Command: cmd, Reply: final})
	default:
		t.setStatus(StatusCompleted)
		tm.finishOK(t, nil)
	}
}

func (tm *TransferManager) finish(t *Transfer, result []byte, err error) {
	t.mu.Lock()
	if err != nil {
		t.status = StatusFailed
		t.lastErr = err
	}
	t.endedAt = time.Now()
	cb := t.onComplete
	t.mu.Unlock()

	if tm.metrics != nil {
		tm.metrics.observeOutcome(t.Kind, t.Status())
	}
	if cb != nil {
		cb(t, result, err)
	}
}

func (tm *TransferManager) finishOK(t *Transfer, result []byte) {
	tm.finish(t, result, nil)
}
