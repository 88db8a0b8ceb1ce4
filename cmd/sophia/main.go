// =============================================================================
// Sophia 主入口
// =============================================================================
// 哲学导师问答核心的命令行入口
//
// 使用方法:
//
//	sophia ask "What is virtue?"              # 一次问答
//	sophia ask --provider claude "..."        # 指定供应商
//	sophia ask --config sophia.yaml "..."     # 指定配置文件
//	sophia health                             # 探测存储与供应商连通性
//	sophia version                            # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BaSui01/sophia"
	"github.com/BaSui01/sophia/config"
	"github.com/BaSui01/sophia/tutor"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ask":
		runAsk(os.Args[2:])
	case "health":
		runHealth(os.Args[2:])
	case "version":
		fmt.Printf("sophia %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage:
  sophia ask [--config path] [--provider name] "question"
  sophia health [--config path]
  sophia version`)
}

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	provider := fs.String("provider", "", "explicit provider name")
	timeout := fs.Duration("timeout", 60*time.Second, "overall request timeout")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "ask: a question is required")
		os.Exit(1)
	}
	question := fs.Arg(0)

	sys, err := sophia.New(loadConfig(*configPath), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}
	defer sys.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var opts []tutor.Option
	if *provider != "" {
		opts = append(opts, tutor.WithProvider(*provider))
	}

	resp, err := sys.Tutor.Answer(ctx, question, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(resp.Answer)
	fmt.Println()
	for _, c := range resp.Citations {
		fmt.Printf("  [%d] %s\n", c.Ordinal, c.Reference)
	}
	fmt.Printf("\n-- %s (%s), %d tokens, %s", resp.Provider, resp.Model,
		resp.Usage.TotalTokens, resp.Latency.Round(time.Millisecond))
	if resp.Degraded {
		fmt.Print(", degraded")
	}
	if resp.Ungrounded {
		fmt.Print(", ungrounded")
	}
	fmt.Println()
}

func runHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	_ = fs.Parse(args)

	sys, err := sophia.New(loadConfig(*configPath), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}
	defer sys.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sys.Prober.ProbeAll(ctx)
	failed := false
	for name, status := range sys.Registry.Snapshot() {
		fmt.Printf("provider %-16s %s\n", name, status)
		if status.String() != "healthy" {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
