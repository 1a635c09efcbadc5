package route

import (
	"fmt"
	"strings"
	"time"
)

const (
	StatusOK       = "HTTP/1.1 200 OK"
	StatusNotFound = "HTTP/1.1 404 NOT FOUND"

	DefaultSleep = 5 * time.Second
)

// Route はリクエスト行に対する応答方針
type Route struct {
	Line     string        `json:"line"`
	Status   string        `json:"status"`
	Delay    time.Duration `json:"delay,omitempty"`
	Resource string        `json:"resource"`
}

// Table はリクエスト行の完全一致で Route を引く静的テーブル
type Table struct {
	routes   map[string]Route
	order    []string
	fallback Route
}

// NewTable は routes と fallback からテーブルを作成する
func NewTable(fallback Route, routes ...Route) (*Table, error) {
	if fallback.Status == "" || fallback.Resource == "" {
		return nil, fmt.Errorf("route: fallback needs a status and a resource")
	}
	t := &Table{
		routes:   make(map[string]Route, len(routes)),
		fallback: fallback,
	}
	for _, r := range routes {
		if r.Line == "" {
			return nil, fmt.Errorf("route: empty request line")
		}
		if r.Status == "" || r.Resource == "" {
			return nil, fmt.Errorf("route %q: status and resource are required", r.Line)
		}
		if r.Delay < 0 {
			return nil, fmt.Errorf("route %q: negative delay %v", r.Line, r.Delay)
		}
		if _, dup := t.routes[r.Line]; dup {
			return nil, fmt.Errorf("route %q: duplicate request line", r.Line)
		}
		t.routes[r.Line] = r
		t.order = append(t.order, r.Line)
	}
	return t, nil
}

// DefaultTable は標準のルート（/、/sleep、それ以外は 404）を返す
func DefaultTable(sleep time.Duration) *Table {
	t, err := NewTable(
		Route{Status: StatusNotFound, Resource: "404.html"},
		Route{Line: "GET / HTTP/1.1", Status: StatusOK, Resource: "hello.html"},
		Route{Line: "GET /sleep HTTP/1.1", Status: StatusOK, Delay: sleep, Resource: "hello.html"},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Match は line に完全一致する Route を返す。一致しなければ fallback を返す
func (t *Table) Match(line string) (Route, bool) {
	if r, ok := t.routes[line]; ok {
		return r, true
	}
	return t.fallback, false
}

// Routes は登録順のルート一覧を返す
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.order))
	for _, line := range t.order {
		out = append(out, t.routes[line])
	}
	return out
}

// Fallback は一致しなかった場合の Route を返す
func (t *Table) Fallback() Route {
	return t.fallback
}

// Resources はテーブルが参照するリソース名を重複なしで返す
func (t *Table) Resources() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range append(t.Routes(), t.fallback) {
		if !seen[r.Resource] {
			seen[r.Resource] = true
			out = append(out, r.Resource)
		}
	}
	return out
}

// TrimLine はリクエスト行の末尾の改行（\r\n または \n）を取り除く
func TrimLine(line string) string {
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
}
