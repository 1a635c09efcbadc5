package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"poolserver/internal/logger"
	"poolserver/internal/resource"
	"poolserver/internal/route"
	"poolserver/internal/server"
	"poolserver/internal/worker"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Pool      PoolConfig      `yaml:"pool" json:"pool"`
	Routes    RoutesConfig    `yaml:"routes" json:"routes"`
	Resources ResourcesConfig `yaml:"resources" json:"resources"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// ServerConfig はリスナー設定
type ServerConfig struct {
	Addr            string `yaml:"addr" json:"addr" default:"127.0.0.1:8080"`
	IOTimeout       string `yaml:"io_timeout" json:"io_timeout" default:"30s"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout" default:"0s"`
	AcceptMaxDelay  string `yaml:"accept_max_delay" json:"accept_max_delay" default:"1s"`
}

// PoolConfig はワーカープール設定
type PoolConfig struct {
	Mode          string `yaml:"mode" json:"mode" default:"pool"`
	Workers       int    `yaml:"workers" json:"workers" default:"4"`
	QueueCapacity int    `yaml:"queue_capacity" json:"queue_capacity"`
}

// RoutesConfig はルーティング設定
// Entries が空なら組み込みのルート表を Sleep の遅延で使う
type RoutesConfig struct {
	Sleep    string       `yaml:"sleep" json:"sleep" default:"5s"`
	Entries  []RouteEntry `yaml:"entries" json:"entries"`
	NotFound RouteEntry   `yaml:"not_found" json:"not_found"`
}

// RouteEntry は1つのルート
type RouteEntry struct {
	Line     string `yaml:"line" json:"line"`
	Status   string `yaml:"status" json:"status"`
	Delay    string `yaml:"delay" json:"delay"`
	Resource string `yaml:"resource" json:"resource"`
}

// ResourcesConfig は応答ボディの読み込み元
type ResourcesConfig struct {
	Dir string `yaml:"dir" json:"dir"` // 空なら組み込みのファイルを使う
}

// AdminConfig は管理APIの設定
type AdminConfig struct {
	Addr     string `yaml:"addr" json:"addr" default:"127.0.0.1:9090"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level" default:"info"`
}

// Default はデフォルト設定を返す
func Default() *FileConfig {
	var cfg FileConfig
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid default tags: %v", err))
	}
	return &cfg
}

// LoadFile は設定ファイルを読み込む
// デフォルト値の上に読み込むので、記述されていない項目だけがデフォルトのまま残る
// 明示的なゼロ値（workers: 0 や addr: ""）はそのまま保持される
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	return config, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	mode, err := worker.ParseMode(f.Pool.Mode)
	if err != nil {
		return fmt.Errorf("pool.mode: %w", err)
	}
	if mode == worker.ModePool && f.Pool.Workers < 1 {
		return fmt.Errorf("pool.workers must be at least 1, got %d", f.Pool.Workers)
	}
	if f.Pool.QueueCapacity < 0 {
		return fmt.Errorf("pool.queue_capacity must be non-negative, got %d", f.Pool.QueueCapacity)
	}

	for name, value := range map[string]string{
		"server.io_timeout":       f.Server.IOTimeout,
		"server.shutdown_timeout": f.Server.ShutdownTimeout,
		"server.accept_max_delay": f.Server.AcceptMaxDelay,
		"routes.sleep":            f.Routes.Sleep,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	for i, e := range f.Routes.Entries {
		if strings.TrimSpace(e.Line) == "" {
			return fmt.Errorf("routes.entries[%d]: line is required", i)
		}
		if _, err := parseDuration(e.Delay); err != nil {
			return fmt.Errorf("routes.entries[%d].delay: %w", i, err)
		}
	}

	if _, err := logger.ParseLevel(f.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// AdminAddr は管理APIのアドレスを返す。無効なら空文字
func (f *FileConfig) AdminAddr() string {
	if f.Admin.Disabled {
		return ""
	}
	return f.Admin.Addr
}

// LogLevel はログレベルを返す。不正な値は info になる
func (f *FileConfig) LogLevel() logger.Level {
	level, err := logger.ParseLevel(f.Log.Level)
	if err != nil {
		return logger.LevelInfo
	}
	return level
}

// RouteTable は設定からルート表を組み立てる
func (f *FileConfig) RouteTable() (*route.Table, error) {
	sleep, err := parseDuration(f.Routes.Sleep)
	if err != nil {
		return nil, fmt.Errorf("invalid sleep: %w", err)
	}
	if len(f.Routes.Entries) == 0 {
		return route.DefaultTable(sleep), nil
	}

	fallback := route.DefaultTable(sleep).Fallback()
	if nf := f.Routes.NotFound; nf.Status != "" || nf.Resource != "" {
		if nf.Status != "" {
			fallback.Status = nf.Status
		}
		if nf.Resource != "" {
			fallback.Resource = nf.Resource
		}
	}

	routes := make([]route.Route, 0, len(f.Routes.Entries))
	for i, e := range f.Routes.Entries {
		delay, err := parseDuration(e.Delay)
		if err != nil {
			return nil, fmt.Errorf("invalid delay for route %d: %w", i, err)
		}
		rt := route.Route{
			Line:     e.Line,
			Status:   e.Status,
			Delay:    delay,
			Resource: e.Resource,
		}
		if rt.Status == "" {
			rt.Status = route.StatusOK
		}
		if rt.Resource == "" {
			rt.Resource = "hello.html"
		}
		routes = append(routes, rt)
	}
	return route.NewTable(fallback, routes...)
}

// ResourceLoader は応答ボディの読み込み元を返す
func (f *FileConfig) ResourceLoader() (resource.Loader, error) {
	if f.Resources.Dir == "" {
		return resource.Embedded(), nil
	}
	l, err := resource.NewDirLoader(f.Resources.Dir)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ToPoolConfig は worker.PoolConfig に変換する
func (f *FileConfig) ToPoolConfig() (worker.PoolConfig, error) {
	config := worker.DefaultPoolConfig()

	mode, err := worker.ParseMode(f.Pool.Mode)
	if err != nil {
		return config, err
	}
	config.Mode = mode
	config.NumWorkers = f.Pool.Workers
	config.QueueCapacity = f.Pool.QueueCapacity
	return config, config.Validate()
}

// ToServerConfig は server.Config に変換する
// イベントバスやコレクタなど実行時の依存は呼び出し側で設定する
func (f *FileConfig) ToServerConfig() (server.Config, error) {
	if err := f.Validate(); err != nil {
		return server.Config{}, err
	}

	config := server.DefaultConfig()
	config.Addr = f.Server.Addr
	config.AcceptMaxDelay, _ = parseDuration(f.Server.AcceptMaxDelay)
	config.IOTimeout, _ = parseDuration(f.Server.IOTimeout)
	config.ShutdownTimeout, _ = parseDuration(f.Server.ShutdownTimeout)

	var err error
	if config.Pool, err = f.ToPoolConfig(); err != nil {
		return config, err
	}
	if config.Routes, err = f.RouteTable(); err != nil {
		return config, err
	}
	if config.Resources, err = f.ResourceLoader(); err != nil {
		return config, err
	}
	return config, nil
}

// parseDuration は空文字を0として扱う
func parseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
