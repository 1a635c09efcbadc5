package handler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"poolserver/internal/events"
	"poolserver/internal/logger"
	"poolserver/internal/metrics"
	"poolserver/internal/resource"
	"poolserver/internal/route"
	"poolserver/internal/worker"
)

const defaultMaxLineBytes = 8 << 10

var (
	// ErrEmptyRequest は改行までの行を受け取る前に接続が閉じられた場合のエラー
	ErrEmptyRequest = errors.New("handler: connection closed before a request line")

	// ErrLineTooLong はリクエスト行が上限を超えた場合のエラー
	ErrLineTooLong = errors.New("handler: request line too long")
)

// Config はハンドラの設定
type Config struct {
	Routes       *route.Table
	Resources    resource.Loader
	IOTimeout    time.Duration // 読み書きの期限（0で無制限）
	MaxLineBytes int           // リクエスト行の最大長（0で既定値）

	Metrics   *metrics.Metrics   // 任意
	Collector *metrics.Collector // 任意
	Bus       *events.Bus        // 任意

	// Sleep は遅延ルートで使う待機関数（nil なら time.Sleep）
	Sleep func(time.Duration)
}

// Handler は接続ごとのリクエスト処理を行う
type Handler struct {
	cfg Config
}

// New はハンドラを作成する
func New(cfg Config) (*Handler, error) {
	if cfg.Routes == nil {
		return nil, fmt.Errorf("handler: route table is required")
	}
	if cfg.Resources == nil {
		return nil, fmt.Errorf("handler: resource loader is required")
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaultMaxLineBytes
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Handler{cfg: cfg}, nil
}

// Job は conn を処理するワーカータスクを返す
// Serve のエラーはプール側でジョブの失敗として集計される
func (h *Handler) Job(conn net.Conn) worker.Task {
	return func() error {
		return h.Serve(conn)
	}
}

// Serve は conn から1行読み、応答を書き込んで接続を閉じる
// 失敗はログとメトリクスに記録した上で返す
func (h *Handler) Serve(conn net.Conn) (err error) {
	tag := "conn-" + uuid.NewString()[:8]
	start := time.Now()
	defer func() {
		_ = conn.Close()
		if err != nil {
			if h.cfg.Metrics != nil {
				h.cfg.Metrics.RecordFailure(time.Since(start))
			}
			if errors.Is(err, resource.ErrResourceMissing) {
				logger.Error(tag, "Response resource missing: %v", err)
			} else {
				logger.Warn(tag, "Connection from %s failed: %v", conn.RemoteAddr(), err)
			}
		}
	}()

	if h.cfg.IOTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(h.cfg.IOTimeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	line, err := readRequestLine(conn, h.cfg.MaxLineBytes)
	if err != nil {
		return err
	}
	logger.Debug(tag, "Request line: %q", line)

	rt, matched := h.cfg.Routes.Match(line)
	if rt.Delay > 0 {
		h.cfg.Sleep(rt.Delay)
	}

	body, err := h.cfg.Resources.Load(rt.Resource)
	if err != nil {
		if errors.Is(err, resource.ErrResourceMissing) {
			h.cfg.Collector.ResourceMissing(rt.Resource)
			h.cfg.Bus.Publish(events.NewResourceMissingEvent(tag, rt.Resource))
		}
		return err
	}

	if h.cfg.IOTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(h.cfg.IOTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := conn.Write(FormatResponse(rt.Status, body)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	elapsed := time.Since(start)
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.RecordStatus(rt.Status, elapsed)
	}
	routeLabel := rt.Line
	if !matched {
		routeLabel = "fallback"
	}
	h.cfg.Collector.RequestServed(routeLabel, rt.Status, elapsed)
	logger.Debug(tag, "%s (%d bytes) in %v", rt.Status, len(body), elapsed)
	return nil
}

// readRequestLine は最初の1行を読み、末尾の改行を除いて返す
// 改行なしで EOF に達した場合も、1バイト以上あれば1行として扱う
func readRequestLine(r io.Reader, maxBytes int) (string, error) {
	br := bufio.NewReaderSize(r, maxBytes)
	raw, err := br.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return "", fmt.Errorf("%w (limit %d bytes)", ErrLineTooLong, maxBytes)
	case errors.Is(err, io.EOF):
		if len(raw) == 0 {
			return "", ErrEmptyRequest
		}
	default:
		return "", fmt.Errorf("read request line: %w", err)
	}
	return route.TrimLine(string(raw)), nil
}

// FormatResponse は応答のバイト列を組み立てる
func FormatResponse(status string, body []byte) []byte {
	head := fmt.Sprintf("%s\r\nContent-Length: %d\r\n\r\n", status, len(body))
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	return append(out, body...)
}
