package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/xlockkit/pkg/config/xconf"
	"github.com/omeyang/xlockkit/pkg/distributed/xleader"
	"github.com/omeyang/xlockkit/pkg/distributed/xlockmgr"
	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
	"github.com/omeyang/xlockkit/pkg/lifecycle/xscope"
	"github.com/omeyang/xlockkit/pkg/observability/xlog"
	"github.com/omeyang/xlockkit/pkg/observability/xmetrics"
	"github.com/omeyang/xlockkit/pkg/reactive/xref"
)

// 退出码
const (
	exitLockHeld   = 3
	exitLockStolen = 4
)

// exitError 表示需要非零退出码但已完成输出的场景。
// 命令内部已完成所有输出，run 只需设置退出码。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var errMissingLockName = errors.New("missing lock name argument")

// printer 串行化多个 goroutine 的输出。
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// 创建所有子命令。
func createCommands(out io.Writer) []*cli.Command {
	return []*cli.Command{
		createSimulateCommand(out),
		createElectCommand(out),
		createHoldCommand(out),
	}
}

func createSimulateCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "进程内模拟多个上下文竞选同一锁名",
		Description: "启动 --contexts 个上下文竞选 --name。每隔 --interval 释放当前 leader 所在上下文，\n" +
			"并补充一个新上下文，共 --rounds 轮（0 表示直到中断）。",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "contexts", Value: 3, Usage: "同时竞选的上下文数量"},
			&cli.StringFlag{Name: "name", Value: "simulated-leader", Usage: "锁名"},
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "释放 leader 的间隔"},
			&cli.IntFlag{Name: "rounds", Value: 5, Usage: "释放轮数，0 表示直到中断"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger, cleanup, err := buildLogger(defaultConfig().Log, cmd.String("log-level"))
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()
			return cmdSimulate(ctx, &printer{out: out}, logger, simulateParams{
				contexts: cmd.Int("contexts"),
				name:     cmd.String("name"),
				interval: cmd.Duration("interval"),
				rounds:   cmd.Int("rounds"),
			})
		},
	}
}

type simulateParams struct {
	contexts int
	name     string
	interval time.Duration
	rounds   int
}

type participant struct {
	id      int
	scope   *xscope.Scope
	elector *xleader.Elector
}

func cmdSimulate(ctx context.Context, p *printer, logger xlog.Logger, sp simulateParams) error {
	if sp.contexts < 1 {
		return fmt.Errorf("--contexts must be positive, got %d", sp.contexts)
	}
	if sp.interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", sp.interval)
	}

	mgr, err := xlockmgr.New(xlockmgr.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	root := xscope.New(ctx, xscope.WithName("simulate"), xscope.WithLogger(logger))
	defer func() { _ = root.Dispose() }()

	name := xref.Const(sp.name)
	nextID := 0
	spawn := func() (*participant, error) {
		id := nextID
		nextID++
		scope := root.Child(xscope.WithName(fmt.Sprintf("ctx-%d", id)))
		e, err := xleader.New(mgr.NewClient(), name,
			xleader.WithScope(scope),
			xleader.WithLogger(logger),
		)
		if err != nil {
			_ = scope.Dispose()
			return nil, err
		}
		e.IsLeader().Watch(func(v, old bool) {
			if v != old {
				p.printf("ctx-%d leader=%t\n", id, v)
			}
		}, xref.WithImmediate())
		return &participant{id: id, scope: scope, elector: e}, nil
	}

	parts := make([]*participant, 0, sp.contexts)
	for range sp.contexts {
		pt, err := spawn()
		if err != nil {
			return err
		}
		parts = append(parts, pt)
	}

	ticker := time.NewTicker(sp.interval)
	defer ticker.Stop()

	for disposed := 0; sp.rounds == 0 || disposed < sp.rounds; {
		select {
		case <-root.Done():
			return nil
		case <-ticker.C:
		}

		i := leaderIndex(parts)
		if i < 0 {
			// 交接尚未完成，等下一轮
			continue
		}
		pt := parts[i]
		_ = pt.scope.Dispose()
		p.printf("disposed ctx-%d\n", pt.id)
		disposed++

		repl, err := spawn()
		if err != nil {
			return err
		}
		parts[i] = repl
	}
	return nil
}

func leaderIndex(parts []*participant) int {
	for i, pt := range parts {
		if pt.elector.IsLeader().Get() {
			return i
		}
	}
	return -1
}

func createElectCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "elect",
		Usage: "以配置的后端参与 leader 选举",
		Description: "持续竞选 lock.name，成为 leader 后每隔 --interval 执行一次工作；\n" +
			"指定 --schedule（cron 表达式）时按计划执行。\n" +
			"指定配置文件时监听文件变化，lock.name 修改后放弃当前锁并以新名称重新竞选。",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "leader 工作间隔"},
			&cli.StringFlag{Name: "schedule", Usage: "cron 表达式（支持秒字段与 @every），设置后忽略 --interval"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cmdElect(ctx, &printer{out: out}, electParams{
				path:     cmd.String("config"),
				level:    cmd.String("log-level"),
				interval: cmd.Duration("interval"),
				schedule: cmd.String("schedule"),
			})
		},
	}
}

type electParams struct {
	path     string
	level    string
	interval time.Duration
	schedule string
}

// trigger 返回驱动 leader 工作的 tick 通道与停止函数。
// schedule 为空时使用固定间隔，否则由 cron 调度。
func trigger(ep electParams) (<-chan struct{}, func(), error) {
	ticks := make(chan struct{}, 1)
	fire := func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}

	if ep.schedule == "" {
		if ep.interval <= 0 {
			return nil, nil, fmt.Errorf("--interval must be positive, got %s", ep.interval)
		}
		ticker := time.NewTicker(ep.interval)
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					fire()
				}
			}
		}()
		return ticks, func() {
			ticker.Stop()
			close(done)
		}, nil
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(ep.schedule, fire); err != nil {
		return nil, nil, fmt.Errorf("invalid --schedule %q: %w", ep.schedule, err)
	}
	c.Start()
	return ticks, func() { <-c.Stop().Done() }, nil
}

func cmdElect(ctx context.Context, p *printer, ep electParams) error {
	ticks, stopTicks, err := trigger(ep)
	if err != nil {
		return err
	}
	defer stopTicks()

	cfg, src, err := loadConfig(ep.path)
	if err != nil {
		return err
	}
	logger, cleanup, err := buildLogger(cfg.Log, ep.level)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	obs, err := xmetrics.NewOTelObserver()
	if err != nil {
		return err
	}
	platform, closePlatform, err := openPlatform(cfg, logger, obs)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePlatform(); err != nil {
			logger.Warn(context.Background(), "close platform", xlog.Err(err))
		}
	}()

	root := xscope.New(ctx,
		xscope.WithName("elect"),
		xscope.WithLogger(logger),
		xscope.WithSignals(xscope.DefaultSignals()...),
	)
	defer func() { _ = root.Dispose() }()

	name := xref.New(cfg.Lock.Name)
	if src != nil {
		w, err := xconf.Watch(src, xconf.Bind(name, func(c xconf.Config) string {
			if v := c.Client().String("lock.name"); v != "" {
				return v
			}
			return name.Get()
		}), xconf.WithWatchLogger(logger))
		if err != nil {
			return err
		}
		w.Start()
		defer func() { _ = w.Stop() }()
	}
	stopName := name.Watch(func(v, _ string) { p.printf("lock=%s\n", v) })
	defer stopName()

	// 回调在竞选 goroutine 中执行，不能在其中关闭 Elector
	errCh := make(chan error, 1)
	e, err := xleader.New(platform, name.Readonly(),
		xleader.WithScope(root),
		xleader.WithLogger(logger),
		xleader.WithObserver(obs),
		xleader.WithErrorHandler(func(err error) {
			select {
			case errCh <- err:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}
	p.printf("lock=%s backend=%s\n", name.Get(), cfg.Backend)
	e.IsLeader().Watch(func(v, old bool) {
		if v != old {
			p.printf("leader=%t\n", v)
		}
	}, xref.WithImmediate())

	for {
		select {
		case <-root.Done():
			return nil
		case err := <-errCh:
			return err
		case <-ticks:
			e.AsLeader(func(signal context.Context) {
				if signal.Err() == nil {
					p.printf("working as leader of %s\n", name.Get())
				}
			})
		}
	}
}

func createHoldCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "hold",
		Usage:     "请求锁并持有",
		ArgsUsage: "<name>",
		Description: "获得锁后持有 --for 时长（0 表示直到中断）。\n" +
			"--if-available 时锁已被持有则以退出码 3 结束；持有期间被抢占以退出码 4 结束。",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "shared", Usage: "以共享模式请求"},
			&cli.BoolFlag{Name: "if-available", Usage: "锁不可用时立即返回"},
			&cli.BoolFlag{Name: "steal", Usage: "抢占当前持有者"},
			&cli.DurationFlag{Name: "for", Usage: "持有时长，0 表示直到中断"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return errMissingLockName
			}
			var opts []xlocks.RequestOption
			if cmd.Bool("shared") {
				opts = append(opts, xlocks.WithShared())
			}
			if cmd.Bool("if-available") {
				opts = append(opts, xlocks.WithIfAvailable())
			}
			if cmd.Bool("steal") {
				opts = append(opts, xlocks.WithSteal())
			}
			return cmdHold(ctx, &printer{out: out}, cmd.String("config"), cmd.String("log-level"), name, cmd.Duration("for"), opts)
		},
	}
}

func cmdHold(ctx context.Context, p *printer, path, level, name string, d time.Duration, opts []xlocks.RequestOption) error {
	cfg, _, err := loadConfig(path)
	if err != nil {
		return err
	}
	logger, cleanup, err := buildLogger(cfg.Log, level)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	obs, err := xmetrics.NewOTelObserver()
	if err != nil {
		return err
	}
	platform, closePlatform, err := openPlatform(cfg, logger, obs)
	if err != nil {
		return err
	}
	defer func() { _ = closePlatform() }()

	root := xscope.New(ctx,
		xscope.WithName("hold"),
		xscope.WithLogger(logger),
		xscope.WithSignals(xscope.DefaultSignals()...),
	)
	defer func() { _ = root.Dispose() }()

	coord, err := xlocks.New(platform,
		xlocks.WithScope(root),
		xlocks.WithForceRelease(cfg.Lock.ForceRelease),
		xlocks.WithLogger(logger),
		xlocks.WithObserver(obs),
	)
	if err != nil {
		return err
	}
	defer func() { _ = coord.Close() }()

	// 取消由 root 承担，ifAvailable 与 steal 不接受可取消的 ctx
	_, err = xlocks.Run(context.Background(), coord, name, func(lockCtx context.Context) (struct{}, error) {
		p.printf("acquired %s\n", name)
		if d <= 0 {
			<-lockCtx.Done()
			return struct{}{}, context.Cause(lockCtx)
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-lockCtx.Done():
			return struct{}{}, context.Cause(lockCtx)
		case <-timer.C:
			return struct{}{}, nil
		}
	}, opts...)

	switch {
	case err == nil, errors.Is(err, xlocks.ErrScopeDisposed):
		p.printf("released %s\n", name)
		return nil
	case errors.Is(err, xlocks.ErrLockHeld):
		p.printf("lock %s is held\n", name)
		return &exitError{code: exitLockHeld}
	case errors.Is(err, xlocks.ErrLockStolen):
		p.printf("lock %s was stolen\n", name)
		return &exitError{code: exitLockStolen}
	default:
		return err
	}
}
