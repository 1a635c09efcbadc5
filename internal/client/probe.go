package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// ErrMalformedResponse は応答を解析できない場合のエラー
var ErrMalformedResponse = errors.New("client: malformed response")

// Response はサーバーの応答
type Response struct {
	Status        string            `json:"status"`
	Headers       map[string]string `json:"headers"`
	ContentLength int               `json:"content_length"`
	Body          []byte            `json:"body"`
}

// Probe は addr に接続して1行のリクエストを送り、応答を読み取る
// サーバーが接続を閉じるまで読み続ける
func Probe(ctx context.Context, addr, line string) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := io.WriteString(conn, line+"\r\n"); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: connection closed without a response", ErrMalformedResponse)
	}
	return ParseResponse(data)
}

// ParseResponse は "<status>\r\nHeader: v\r\n\r\n<body>" 形式の応答を解析する
func ParseResponse(data []byte) (*Response, error) {
	head, body, ok := bytes.Cut(data, []byte("\r\n\r\n"))
	if !ok {
		return nil, fmt.Errorf("%w: missing header terminator", ErrMalformedResponse)
	}

	lines := strings.Split(string(head), "\r\n")
	resp := &Response{
		Status:        lines[0],
		Headers:       make(map[string]string, len(lines)-1),
		ContentLength: -1,
		Body:          body,
	}
	for _, l := range lines[1:] {
		name, value, ok := strings.Cut(l, ":")
		if !ok {
			return nil, fmt.Errorf("%w: bad header %q", ErrMalformedResponse, l)
		}
		resp.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	if v, ok := resp.Headers["Content-Length"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedResponse, v)
		}
		if n != len(body) {
			return nil, fmt.Errorf("%w: Content-Length %d, body %d bytes", ErrMalformedResponse, n, len(body))
		}
		resp.ContentLength = n
	}
	return resp, nil
}

// StatusCode は状態行から数値のステータスコードを取り出す
func (r *Response) StatusCode() int {
	fields := strings.Fields(r.Status)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}
