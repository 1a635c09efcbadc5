// Package main is the entry point for poolserver.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCmd はサブコマンドをまとめたルートコマンドを作成する
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "poolserver",
		Short: "Line-protocol server backed by a fixed worker pool",
		Long: `poolserver - Line-protocol server backed by a fixed worker pool

Examples:
  # デフォルト設定（4ワーカー）で起動
  poolserver serve

  # プリセットで起動
  poolserver serve --preset single

  # 設定ファイルとフラグを組み合わせる
  poolserver serve --config poolserver.yaml --workers 8

  # 1リクエスト送る
  poolserver probe "GET /sleep HTTP/1.1"

  # 負荷をかける
  poolserver bench --requests 1000 --concurrency 16`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newProbeCmd(),
		newBenchCmd(),
		newPresetsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "バージョンを表示",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "poolserver version %s\n", version)
		},
	}
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "利用可能なプリセットを表示",
		Run: func(cmd *cobra.Command, args []string) {
			printPresets(cmd.OutOrStdout())
		},
	}
}
