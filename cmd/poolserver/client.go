package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"poolserver/internal/client"
	"poolserver/internal/server"
)

func newProbeCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe [LINE]",
		Short: "1行のリクエストを送り応答を表示する",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := "GET / HTTP/1.1"
			if len(args) == 1 {
				line = args[0]
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			resp, err := client.Probe(ctx, addr, line)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Status)
			for name, value := range resp.Headers {
				fmt.Fprintf(out, "%s: %s\n", name, value)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, string(resp.Body))
			fmt.Fprintf(cmd.ErrOrStderr(), "(%v)\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", server.DefaultAddr, "接続先アドレス")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "応答待ちの上限")
	return cmd
}

func newBenchCmd() *cobra.Command {
	config := client.DefaultConfig()
	var (
		requests uint64
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "並列にリクエストを送りメトリクスを表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(config)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Benchmarking %s (lines: %v)\n\n", config.Addr, config.Lines)

			if duration > 0 {
				fmt.Fprint(out, c.RunFor(cmd.Context(), duration).Report())
			} else {
				fmt.Fprint(out, c.RunRequests(cmd.Context(), requests).Report())
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&config.Addr, "addr", config.Addr, "接続先アドレス")
	f.IntVar(&config.NumWorkers, "concurrency", 8, "並列数")
	f.StringSliceVar(&config.Lines, "line", config.Lines, "送信するリクエスト行（複数指定で順に送る）")
	f.DurationVar(&config.Timeout, "timeout", config.Timeout, "1リクエストの上限")
	f.Uint64Var(&requests, "requests", 100, "リクエスト数")
	f.DurationVar(&duration, "duration", 0, "実行時間（指定時は --requests より優先）")
	return cmd
}
