package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"poolserver/internal/events"
	"poolserver/internal/logger"
	"poolserver/internal/metrics"
)

// Job はワーカーが実行するジョブを表す
type Job func()

// Task はエラーを返すジョブ。非 nil のエラーは panic と同じく失敗として報告される
type Task func() error

// Mode はジョブの実行方式
type Mode int

const (
	// ModePool は固定数のワーカーゴルーチンで実行する
	ModePool Mode = iota
	// ModeInline は Submit を呼んだゴルーチンで逐次実行する
	ModeInline
	// ModeSpawn はジョブごとにゴルーチンを起動する
	ModeSpawn
)

func (m Mode) String() string {
	switch m {
	case ModePool:
		return "pool"
	case ModeInline:
		return "inline"
	case ModeSpawn:
		return "spawn"
	default:
		return "unknown"
	}
}

// ParseMode は文字列から実行方式を解析する
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pool", "threadpool":
		return ModePool, nil
	case "inline", "single":
		return ModeInline, nil
	case "spawn", "async":
		return ModeSpawn, nil
	default:
		return ModePool, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
	}
}

// State はプールの投入側の状態
type State int32

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// WorkerState はワーカーの状態
type WorkerState int32

const (
	WorkerWaiting WorkerState = iota
	WorkerExecuting
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerWaiting:
		return "waiting"
	case WorkerExecuting:
		return "executing"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers    int                // ワーカー数（ModePool では 1 以上）
	Mode          Mode               // 実行方式
	QueueCapacity int                // キュー容量（0で無制限）
	Name          string             // ログとイベントのソース名
	Bus           *events.Bus        // ライフサイクルイベントの通知先（任意）
	Metrics       *metrics.Collector // Prometheus コレクタ（任意）

	// OnJobFailure はジョブが失敗したときにワーカーのゴルーチンから呼ばれる（任意）
	OnJobFailure func(workerID int, err error)
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers: 4,
		Mode:       ModePool,
		Name:       "pool",
	}
}

// Validate は設定を検証する
func (c PoolConfig) Validate() error {
	switch c.Mode {
	case ModePool:
		if c.NumWorkers < 1 {
			return fmt.Errorf("%w: got %d", ErrInvalidSize, c.NumWorkers)
		}
	case ModeInline, ModeSpawn:
	default:
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidConfig, c.Mode)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("%w: queue capacity must be non-negative, got %d", ErrInvalidConfig, c.QueueCapacity)
	}
	return nil
}

// worker は1つのワーカーの識別子・状態・カウンタを保持する
type worker struct {
	id        int
	state     atomic.Int32
	processed atomic.Uint64
	failed    atomic.Uint64
	done      chan struct{}
	joined    bool // shutdownMu で保護
}

// WorkerInfo はワーカーの状態のスナップショット
type WorkerInfo struct {
	ID        int    `json:"id"`
	State     string `json:"state"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

// Stats はプール全体の状態のスナップショット
type Stats struct {
	Mode      string        `json:"mode"`
	Size      int           `json:"size"`
	State     string        `json:"state"`
	QueueLen  int           `json:"queue_len"`
	Submitted uint64        `json:"submitted"`
	Rejected  uint64        `json:"rejected"`
	Processed uint64        `json:"processed"`
	Failed    uint64        `json:"failed"`
	Busy      int           `json:"busy"`
	Uptime    time.Duration `json:"uptime_ns"`
}

// Pool は固定数のワーカーとジョブキューを管理する
type Pool struct {
	cfg     PoolConfig
	queue   *jobQueue
	workers []*worker
	state   atomic.Int32
	started time.Time

	submitted atomic.Uint64
	rejected  atomic.Uint64

	// ModeInline / ModeSpawn 用
	gate     sync.RWMutex
	inflight sync.WaitGroup
	inlineMu sync.Mutex

	shutdownMu sync.Mutex
}

// NewPool は size 個のワーカーを持つプールを作成し、ワーカーを起動する
func NewPool(size int) (*Pool, error) {
	config := DefaultPoolConfig()
	config.NumWorkers = size
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してプールを作成し、ワーカーを起動する
// 設定が不正な場合は何も起動せずにエラーを返す
func NewPoolWithConfig(config PoolConfig) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "pool"
	}

	size := config.NumWorkers
	if config.Mode != ModePool {
		// 単一のレコードが全実行を集計する
		size = 1
	}

	p := &Pool{
		cfg:     config,
		workers: make([]*worker, size),
		started: time.Now(),
	}
	for id := range size {
		p.workers[id] = &worker{id: id, done: make(chan struct{})}
	}
	p.cfg.Metrics.SetWorkers(size)

	if config.Mode == ModePool {
		p.queue = newJobQueue(config.QueueCapacity)
		for _, w := range p.workers {
			p.startWorker(w)
			p.cfg.Bus.Publish(events.NewWorkerStartedEvent(p.cfg.Name, w.id))
		}
	}

	logger.Info(p.cfg.Name, "WorkerPool started (mode: %s, workers: %d)", config.Mode, size)
	return p, nil
}

// startWorker はワーカーのゴルーチンを起動する
// ジョブが runtime.Goexit でゴルーチンを終了させた場合は同じワーカーで再起動する
func (p *Pool) startWorker(w *worker) {
	go func() {
		exited := false
		defer func() {
			if exited {
				w.state.Store(int32(WorkerStopped))
				close(w.done)
				return
			}
			logger.Warn(p.workerTag(w.id), "Worker goroutine terminated by job, restarting")
			p.startWorker(w)
		}()

		p.run(w)
		exited = true
	}()
}

// run はキューがクローズされて空になるまでジョブを取り出して実行する
func (p *Pool) run(w *worker) {
	logger.Debug(p.workerTag(w.id), "Worker waiting for jobs")
	for {
		task, ok := p.queue.pop()
		if !ok {
			logger.Debug(p.workerTag(w.id), "Queue closed and drained, exiting")
			return
		}
		p.execute(w, task)
	}
}

// execute はジョブを実行する。panic はここで回収されワーカーは継続する
func (p *Pool) execute(w *worker, task Task) {
	w.state.Store(int32(WorkerExecuting))
	p.cfg.Metrics.JobClaimed()

	var err error
	completed := false
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		} else if !completed {
			err = ErrJobAborted
		}

		w.processed.Add(1)
		if err != nil {
			w.failed.Add(1)
			p.reportFailure(w.id, err)
		}
		p.cfg.Metrics.JobFinished(err != nil)
		w.state.Store(int32(WorkerWaiting))
	}()

	err = task()
	completed = true
}

func (p *Pool) reportFailure(workerID int, err error) {
	logger.Error(p.workerTag(workerID), "Job failed: %v", err)
	p.cfg.Bus.Publish(events.NewJobFailedEvent(p.cfg.Name, workerID, err))
	if p.cfg.OnJobFailure != nil {
		p.callFailureHook(workerID, err)
	}
}

// callFailureHook は OnJobFailure を呼ぶ。フック内の panic はワーカーに伝播させない
func (p *Pool) callFailureHook(workerID int, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(p.workerTag(workerID), "OnJobFailure panicked: %v", r)
		}
	}()
	p.cfg.OnJobFailure(workerID, err)
}

func (p *Pool) workerTag(id int) string {
	return fmt.Sprintf("%s-worker-%d", p.cfg.Name, id)
}

// Submit はジョブをプールに投入する。ブロックしない
// シャットダウン開始後は ErrQueueClosed を返し、ジョブは実行されない
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return ErrNilJob
	}
	return p.submit(context.Background(), false, jobTask(job))
}

// SubmitWait はジョブを投入し、容量制限付きキューが満杯なら空きができるまでブロックする
func (p *Pool) SubmitWait(ctx context.Context, job Job) error {
	if job == nil {
		return ErrNilJob
	}
	return p.submit(ctx, true, jobTask(job))
}

// SubmitTask は Submit と同じだが、タスクが返したエラーをジョブの失敗として扱う
func (p *Pool) SubmitTask(task Task) error {
	if task == nil {
		return ErrNilJob
	}
	return p.submit(context.Background(), false, task)
}

// SubmitTaskWait は SubmitWait の Task 版
func (p *Pool) SubmitTaskWait(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilJob
	}
	return p.submit(ctx, true, task)
}

func jobTask(job Job) Task {
	return func() error {
		job()
		return nil
	}
}

// submit は wait が false ならブロックせずに投入する
func (p *Pool) submit(ctx context.Context, wait bool, task Task) error {
	var err error
	switch p.cfg.Mode {
	case ModePool:
		// ワーカーが取り出す前にキュー深さを増やしておく
		p.cfg.Metrics.JobQueued()
		if wait {
			err = p.queue.pushWait(ctx, task)
		} else {
			err = p.queue.push(task)
		}
		if err != nil {
			p.cfg.Metrics.JobUnqueued()
		}
	default:
		err = p.dispatchDirect(task)
	}
	return p.accepted(err)
}

// accepted は投入結果を集計する
func (p *Pool) accepted(err error) error {
	if err != nil {
		p.rejected.Add(1)
		reason := "canceled"
		switch {
		case errors.Is(err, ErrQueueClosed):
			reason = "queue_closed"
		case errors.Is(err, ErrQueueFull):
			reason = "queue_full"
		}
		p.cfg.Metrics.JobRejected(reason)
		p.cfg.Bus.Publish(events.NewJobRejectedEvent(p.cfg.Name, reason))
		return err
	}
	p.submitted.Add(1)
	if p.cfg.Mode == ModePool {
		p.cfg.Metrics.JobSubmitted()
	}
	return nil
}

// dispatchDirect は ModeInline / ModeSpawn でジョブを実行する
func (p *Pool) dispatchDirect(task Task) error {
	p.gate.RLock()
	if State(p.state.Load()) != StateOpen {
		p.gate.RUnlock()
		return ErrQueueClosed
	}
	p.inflight.Add(1)
	p.gate.RUnlock()

	p.cfg.Metrics.JobSubmitted()
	p.cfg.Metrics.JobQueued()
	w := p.workers[0]

	if p.cfg.Mode == ModeInline {
		defer p.inflight.Done()
		p.inlineMu.Lock()
		defer p.inlineMu.Unlock()
		p.execute(w, task)
		return nil
	}

	go func() {
		defer p.inflight.Done()
		p.execute(w, task)
	}()
	return nil
}

// Shutdown は投入側を閉じ、全ワーカーの終了を待つ
// 閉じる前に投入されたジョブはすべて実行される。2回目以降の呼び出しは何もしない
func (p *Pool) Shutdown() error {
	return p.ShutdownContext(context.Background())
}

// ShutdownContext は Shutdown と同じだが、ctx が終了すると残りのワーカーを
// join せずに *ShutdownError を返す。再度呼び出すと未 join のワーカーだけを待つ
func (p *Pool) ShutdownContext(ctx context.Context) error {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()

	if p.closeProducer() {
		logger.Info(p.cfg.Name, "WorkerPool shutting down, draining %d queued job(s)", p.QueueLen())
		p.cfg.Bus.Publish(events.NewPoolClosedEvent(p.cfg.Name))
		if p.cfg.Mode != ModePool {
			p.waitDirect()
		}
	}

	for _, w := range p.workers {
		if w.joined {
			continue
		}
		select {
		case <-w.done:
		case <-ctx.Done():
			return p.unjoinedError(ctx.Err())
		}
		w.joined = true
		logger.Info(p.cfg.Name, "Shutting down worker %d (processed: %d, failed: %d)",
			w.id, w.processed.Load(), w.failed.Load())
		p.cfg.Bus.Publish(events.NewWorkerStoppedEvent(p.cfg.Name, w.id, w.processed.Load(), w.failed.Load()))
	}
	return nil
}

// closeProducer は投入側を一度だけ閉じる。最初の呼び出しのみ true を返す
func (p *Pool) closeProducer() bool {
	p.gate.Lock()
	swapped := p.state.CompareAndSwap(int32(StateOpen), int32(StateClosed))
	p.gate.Unlock()
	if !swapped {
		return false
	}
	if p.queue != nil {
		p.queue.close()
	}
	return true
}

// waitDirect は ModeInline / ModeSpawn で実行中のジョブの完了を待ち、仮想ワーカーを停止させる
func (p *Pool) waitDirect() {
	w := p.workers[0]
	go func() {
		p.inflight.Wait()
		w.state.Store(int32(WorkerStopped))
		close(w.done)
	}()
}

func (p *Pool) unjoinedError(err error) error {
	var ids []int
	for _, w := range p.workers {
		if !w.joined {
			ids = append(ids, w.id)
		}
	}
	logger.Error(p.cfg.Name, "Shutdown interrupted with %d worker(s) still running: %v", len(ids), err)
	return &ShutdownError{Unjoined: ids, Err: err}
}

// Size はワーカー数を返す
func (p *Pool) Size() int {
	return len(p.workers)
}

// Mode は実行方式を返す
func (p *Pool) Mode() Mode {
	return p.cfg.Mode
}

// State は投入側の状態を返す
func (p *Pool) State() State {
	return State(p.state.Load())
}

// QueueLen は待機中のジョブ数を返す
func (p *Pool) QueueLen() int {
	if p.queue == nil {
		return 0
	}
	return p.queue.len()
}

// Workers は各ワーカーの状態を ID 昇順で返す
func (p *Pool) Workers() []WorkerInfo {
	out := make([]WorkerInfo, len(p.workers))
	for i, w := range p.workers {
		out[i] = WorkerInfo{
			ID:        w.id,
			State:     WorkerState(w.state.Load()).String(),
			Processed: w.processed.Load(),
			Failed:    w.failed.Load(),
		}
	}
	return out
}

// Stats はプール全体のスナップショットを返す
func (p *Pool) Stats() Stats {
	s := Stats{
		Mode:      p.cfg.Mode.String(),
		Size:      p.Size(),
		State:     p.State().String(),
		QueueLen:  p.QueueLen(),
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Uptime:    time.Since(p.started),
	}
	for _, w := range p.workers {
		s.Processed += w.processed.Load()
		s.Failed += w.failed.Load()
		if WorkerState(w.state.Load()) == WorkerExecuting {
			s.Busy++
		}
	}
	return s
}
