package client

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"poolserver/internal/logger"
	"poolserver/internal/metrics"
	"poolserver/internal/worker"
)

// Config はClientの設定
type Config struct {
	Addr          string        // 接続先
	NumWorkers    int           // 並列数（0でCPU数）
	Lines         []string      // 送信するリクエスト行（順に繰り返す）
	Timeout       time.Duration // 1リクエストの期限（0で無制限）
	RequestsLimit uint64        // リクエスト上限（0で無制限）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:    "127.0.0.1:8080",
		Lines:   []string{"GET / HTTP/1.1"},
		Timeout: 10 * time.Second,
	}
}

// Client は負荷生成器
type Client struct {
	config  Config
	pool    *worker.Pool
	metrics *metrics.Metrics

	running atomic.Bool
	issued  atomic.Uint64
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New は新しいClientを作成する
func New(config Config) (*Client, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("client: address is required")
	}
	if len(config.Lines) == 0 {
		config.Lines = DefaultConfig().Lines
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = runtime.NumCPU()
	}

	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{
		NumWorkers:    config.NumWorkers,
		Mode:          worker.ModePool,
		QueueCapacity: config.NumWorkers * 2,
		Name:          "bench",
	})
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	return &Client{
		config:  config,
		pool:    pool,
		metrics: metrics.New(),
	}, nil
}

// Start は負荷生成を開始する
func (c *Client) Start(ctx context.Context) {
	if c.running.Swap(true) {
		return // Already running
	}

	c.parent = ctx
	c.ctx, c.cancel = context.WithCancel(ctx)

	logger.Info("bench", "Client started (target: %s, workers: %d)", c.config.Addr, c.pool.Size())

	c.wg.Add(1)
	go c.generateRequests()
}

// generateRequests はリクエストを生成し続ける
// キューが満杯の間は空きを待つ
func (c *Client) generateRequests() {
	defer c.wg.Done()

	for {
		if c.config.RequestsLimit > 0 && c.issued.Load() >= c.config.RequestsLimit {
			return
		}

		n := c.issued.Add(1) - 1
		line := c.config.Lines[int(n%uint64(len(c.config.Lines)))]

		if err := c.pool.SubmitWait(c.ctx, c.createJob(line)); err != nil {
			c.issued.Add(^uint64(0))
			if !errors.Is(err, context.Canceled) && !errors.Is(err, worker.ErrQueueClosed) {
				logger.Warn("bench", "Submit failed: %v", err)
			}
			return
		}
	}
}

// createJob は1リクエストを送るジョブを作成する
func (c *Client) createJob(line string) worker.Job {
	return func() {
		ctx := c.parent
		if c.config.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := Probe(ctx, c.config.Addr, line)
		latency := time.Since(start)
		if err != nil {
			c.metrics.RecordFailure(latency)
			logger.Debug("bench", "Request %q failed: %v", line, err)
			return
		}
		c.metrics.RecordStatus(resp.Status, latency)
	}
}

// Stop は負荷生成を停止する
// 投入済みのリクエストは完了まで待つ
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return // Not running
	}

	c.cancel()
	c.wg.Wait()
	if err := c.pool.Shutdown(); err != nil {
		logger.Warn("bench", "Pool shutdown: %v", err)
	}

	logger.Info("bench", "Client stopped (%d requests)", c.metrics.TotalRequests())
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// RunFor は指定時間だけ負荷生成を実行する
func (c *Client) RunFor(ctx context.Context, duration time.Duration) *metrics.Snapshot {
	c.Start(ctx)

	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}

	c.Stop()

	snapshot := c.metrics.Snapshot()
	return &snapshot
}

// RunRequests は指定数のリクエストを実行する
func (c *Client) RunRequests(ctx context.Context, count uint64) *metrics.Snapshot {
	c.config.RequestsLimit = count
	c.Start(ctx)
	c.wg.Wait()
	c.Stop()

	snapshot := c.metrics.Snapshot()
	return &snapshot
}
