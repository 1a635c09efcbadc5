package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"poolserver/internal/api"
	"poolserver/internal/config"
	"poolserver/internal/events"
	"poolserver/internal/logger"
	"poolserver/internal/metrics"
	"poolserver/internal/server"
)

func newServeCmd() *cobra.Command {
	v := config.NewViper()
	var configFile, presetName string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "サーバーを起動する",
		Long: `サーバーを起動する。SIGINT/SIGTERM で受付を止め、
キューに残った接続を処理してから終了する。

設定の優先順位: フラグ > 環境変数 (POOLSERVER_*) > プリセット > 設定ファイル > デフォルト`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(configFile, presetName, v)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	f.StringVar(&presetName, "preset", "", "プリセット名 (threadpool, single, async, bounded)")
	f.String("addr", server.DefaultAddr, "待ち受けアドレス")
	f.Int("workers", 4, "ワーカー数")
	f.String("mode", "pool", "実行方式 (pool, inline, spawn)")
	f.Int("queue-capacity", 0, "キュー容量 (0で無制限)")
	f.String("io-timeout", "30s", "接続ごとの読み書き期限")
	f.String("admin-addr", api.DefaultAddr, "管理APIアドレス")
	f.Bool("no-admin", false, "管理APIを無効化")
	f.String("resources", "", "応答ボディのディレクトリ (空なら組み込み)")
	f.String("sleep", "5s", "GET /sleep の遅延")
	f.String("log-level", "info", "ログレベル (debug, info, warn, error)")

	bindFlags(v, f, map[string]string{
		config.KeyServerAddr:        "addr",
		config.KeyPoolWorkers:       "workers",
		config.KeyPoolMode:          "mode",
		config.KeyPoolQueueCapacity: "queue-capacity",
		config.KeyServerIOTimeout:   "io-timeout",
		config.KeyAdminAddr:         "admin-addr",
		config.KeyAdminDisabled:     "no-admin",
		config.KeyResourcesDir:      "resources",
		config.KeyRoutesSleep:       "sleep",
		config.KeyLogLevel:          "log-level",
	})
	return cmd
}

// bindFlags は設定キーとフラグを対応付ける
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if flag := fs.Lookup(name); flag != nil {
			_ = v.BindPFlag(key, flag)
		}
	}
}

// buildConfig は設定ファイル・プリセット・上書きを順に適用する
func buildConfig(configFile, presetName string, v *viper.Viper) (*config.FileConfig, error) {
	cfg := config.Default()

	if configFile != "" {
		fileConfig, err := config.LoadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		cfg = fileConfig
	}
	if presetName != "" && !config.ApplyPreset(cfg, presetName) {
		return nil, fmt.Errorf("unknown preset: %s (see 'poolserver presets')", presetName)
	}

	cfg.ApplyOverrides(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定検証エラー: %w", err)
	}
	return cfg, nil
}

// runServe はサーバーと管理APIを起動し、ctx が終了するまで待つ
func runServe(ctx context.Context, cfg *config.FileConfig) error {
	log := logger.New(os.Stdout, cfg.LogLevel())
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("poolserver")
	if err := collector.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	bus := events.NewBus()
	defer bus.Close()

	sc, err := cfg.ToServerConfig()
	if err != nil {
		return fmt.Errorf("設定変換エラー: %w", err)
	}
	sc.Bus = bus
	sc.Collector = collector

	srv, err := server.New(sc)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if addr := cfg.AdminAddr(); addr != "" {
		adminSrv := api.NewServer(api.Config{
			Addr:     addr,
			Source:   srv,
			Bus:      bus,
			Registry: reg,
		})
		g.Go(func() error {
			return adminSrv.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("main", "サーバーエラー: %v", err)
		return err
	}
	return nil
}

// printPresets は利用可能なプリセットを表示する
func printPresets(w io.Writer) {
	fmt.Fprintln(w, "利用可能なプリセット:")
	fmt.Fprintln(w)
	for _, p := range config.Presets() {
		fmt.Fprintf(w, "  %-12s %s\n", p.Name, p.Description)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "使用例: poolserver serve --preset single")
}
