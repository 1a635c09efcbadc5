package config

import "sort"

// Preset は名前付きの設定
type Preset struct {
	Name        string
	Description string
	apply       func(*FileConfig)
}

var presets = map[string]Preset{
	"threadpool": {
		Name:        "threadpool",
		Description: "Fixed pool of 4 workers with an unbounded queue",
		apply: func(c *FileConfig) {
			c.Pool.Mode = "pool"
			c.Pool.Workers = 4
			c.Pool.QueueCapacity = 0
		},
	},
	"single": {
		Name:        "single",
		Description: "One connection at a time on the accepting goroutine",
		apply: func(c *FileConfig) {
			c.Pool.Mode = "inline"
			c.Pool.Workers = 1
		},
	},
	"async": {
		Name:        "async",
		Description: "One goroutine per connection, no concurrency limit",
		apply: func(c *FileConfig) {
			c.Pool.Mode = "spawn"
			c.Pool.Workers = 1
		},
	},
	"bounded": {
		Name:        "bounded",
		Description: "Fixed pool of 4 workers, queue capped at 64 connections",
		apply: func(c *FileConfig) {
			c.Pool.Mode = "pool"
			c.Pool.Workers = 4
			c.Pool.QueueCapacity = 64
		},
	},
}

// GetPreset は名前からプリセットを適用したデフォルト設定を返す
func GetPreset(name string) (*FileConfig, bool) {
	p, ok := presets[name]
	if !ok {
		return nil, false
	}
	cfg := Default()
	p.apply(cfg)
	return cfg, true
}

// ApplyPreset は既存の設定にプリセットのプール設定を上書きする
func ApplyPreset(cfg *FileConfig, name string) bool {
	p, ok := presets[name]
	if !ok {
		return false
	}
	p.apply(cfg)
	return true
}

// Presets は全プリセットを名前順で返す
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
