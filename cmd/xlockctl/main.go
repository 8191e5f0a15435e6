// xlockctl 是 xlockkit 锁协调器与 leader 选举的命令行工具。
//
// 用法:
//
//	xlockctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config   配置文件路径（yaml/json），也可通过 XLOCKCTL_CONFIG 指定
//	--log-level    覆盖配置中的日志级别
//
// 命令:
//
//	simulate       进程内模拟多个上下文竞选同一锁名，定期释放当前 leader
//	elect          以配置的后端（local/redis/etcd/k8s）参与 leader 选举，配置变更时跟随新锁名
//	hold <name>    请求锁并持有，直到 --for 到期或收到信号
//
// 退出码:
//
//	0: 成功
//	1: 执行失败
//	3: hold --if-available 时锁已被持有
//	4: hold 期间锁被抢占
//
// 示例:
//
//	xlockctl simulate --contexts 3 --interval 2s
//	xlockctl -c /etc/xlockctl/config.yaml elect
//	xlockctl hold --steal --for 30s jobs-leader
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

// 版本信息，通过 -ldflags "-X main.Version=..." 注入。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(context.Background(), os.Args, os.Stdout))
}

func createApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "xlockctl",
		Usage:   "xlockkit 锁协调与 leader 选举工具",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（yaml/json），为空时使用默认配置",
				Sources: cli.EnvVars("XLOCKCTL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "覆盖配置中的日志级别（debug/info/warn/error）",
			},
		},
		Commands: createCommands(out),
		// 禁止 urfave/cli 直接调用 os.Exit，由 run 统一映射退出码
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	}
}

func run(ctx context.Context, args []string, out io.Writer) int {
	if err := createApp(out).Run(ctx, args); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}
