package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"poolserver/internal/events"
	"poolserver/internal/handler"
	"poolserver/internal/logger"
	"poolserver/internal/metrics"
	"poolserver/internal/resource"
	"poolserver/internal/route"
	"poolserver/internal/worker"
)

// DefaultAddr は待ち受けアドレスの既定値
const DefaultAddr = "127.0.0.1:8080"

// DefaultAcceptMaxDelay は Accept 再試行間隔の上限の既定値
const DefaultAcceptMaxDelay = time.Second

// ErrNotListening は Listen 前に Serve が呼ばれた場合のエラー
var ErrNotListening = errors.New("server: not listening")

// Config はサーバーの設定
type Config struct {
	Addr      string
	Pool      worker.PoolConfig
	Routes    *route.Table
	Resources resource.Loader

	IOTimeout       time.Duration // 接続ごとの読み書き期限（0で無制限）
	ShutdownTimeout time.Duration // プール停止の待ち時間（0で無制限）
	AcceptMaxDelay  time.Duration // Accept 失敗時の再試行間隔の上限（0で既定値）

	Bus       *events.Bus        // 任意
	Collector *metrics.Collector // 任意

	// Sleep は遅延ルートの待機関数（nil なら time.Sleep）
	Sleep func(time.Duration)
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:           DefaultAddr,
		Pool:           worker.DefaultPoolConfig(),
		Routes:         route.DefaultTable(route.DefaultSleep),
		Resources:      resource.Embedded(),
		AcceptMaxDelay: DefaultAcceptMaxDelay,
	}
}

// Server は接続を受け付けてワーカープールに処理を委ねる
type Server struct {
	cfg     Config
	pool    *worker.Pool
	handler *handler.Handler
	metrics *metrics.Metrics

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// New はサーバーを作成し、ワーカープールを起動する
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Routes == nil {
		cfg.Routes = route.DefaultTable(route.DefaultSleep)
	}
	if cfg.Resources == nil {
		cfg.Resources = resource.Embedded()
	}
	if err := resource.Check(cfg.Resources, cfg.Routes.Resources()...); err != nil {
		// 欠けたリソースはリクエストごとに失敗として扱う
		logger.Warn("server", "Some response bodies are unavailable: %v", err)
	}

	m := metrics.New()
	h, err := handler.New(handler.Config{
		Routes:    cfg.Routes,
		Resources: cfg.Resources,
		IOTimeout: cfg.IOTimeout,
		Metrics:   m,
		Collector: cfg.Collector,
		Bus:       cfg.Bus,
		Sleep:     cfg.Sleep,
	})
	if err != nil {
		return nil, err
	}

	pc := cfg.Pool
	if pc.Bus == nil {
		pc.Bus = cfg.Bus
	}
	if pc.Metrics == nil {
		pc.Metrics = cfg.Collector
	}
	pool, err := worker.NewPoolWithConfig(pc)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	return &Server{
		cfg:     cfg,
		pool:    pool,
		handler: h,
		metrics: m,
	}, nil
}

// Listen はアドレスにバインドする
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	logger.Info("server", "Listening on %s (mode: %s, workers: %d)", ln.Addr(), s.pool.Mode(), s.pool.Size())
	return nil
}

// ServeListener は ln で待ち受けて Serve する。Listen 済みならエラーを返す
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("server: already listening")
	}
	s.listener = ln
	s.mu.Unlock()
	return s.Serve(ctx)
}

// Run は Listen と Serve をまとめて行う
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		_ = s.shutdownPool()
		return err
	}
	return s.Serve(ctx)
}

// Serve は ctx が終了するか Close されるまで接続を受け付ける
// 戻る前にプールを停止し、キューに残った接続を処理し終える
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return s.acceptLoop(gctx, ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Close()
	})

	err := g.Wait()
	if perr := s.shutdownPool(); perr != nil && err == nil {
		err = perr
	}
	logger.Info("server", "Stopped")
	return err
}

// acceptLoop は接続を受け付けてジョブとして投入する
// Accept の失敗は待ち受けが閉じられるまで指数バックオフで再試行し続ける
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	b := s.acceptBackOff()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			delay := b.NextBackOff()
			logger.Warn("server", "Accept failed: %v (retrying in %v)", err, delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		b.Reset()

		if err := s.pool.SubmitTask(s.handler.Job(conn)); err != nil {
			logger.Warn("server", "Dropping connection from %s: %v", conn.RemoteAddr(), err)
			_ = conn.Close()
		}
	}
}

func (s *Server) acceptBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = s.cfg.AcceptMaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultAcceptMaxDelay
	}
	return b
}

// Close は待ち受けを終了する。プールは Serve が停止させる
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.listener == nil {
		return nil
	}
	s.closed = true
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) shutdownPool() error {
	if s.cfg.ShutdownTimeout <= 0 {
		return s.pool.Shutdown()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.pool.ShutdownContext(ctx)
}

// Addr は待ち受け中のアドレスを返す。Listen 前は nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Pool はワーカープールを返す
func (s *Server) Pool() *worker.Pool {
	return s.pool
}

// Stats はプールの状態を返す
func (s *Server) Stats() worker.Stats {
	return s.pool.Stats()
}

// Workers は各ワーカーの状態を返す
func (s *Server) Workers() []worker.WorkerInfo {
	return s.pool.Workers()
}

// Snapshot はリクエストメトリクスのスナップショットを返す
func (s *Server) Snapshot() metrics.Snapshot {
	return s.metrics.Snapshot()
}
