package gamrun

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Outcome 是一次外部检查命令的执行结果。
// 执行失败不返回 error：失败本身就是一种需要落库的观测结果。
type Outcome struct {
	OK       bool   // 命令是否正常退出
	Stdout   string
	Stderr   string
	ErrText  string // 失败原因描述，OK 时为空
	TimedOut bool   // 是否因超时被终止
}

// Runner 抽象外部配置读取工具（GAM CLI）。
// 测试中用假实现替换，避免真实调用 Google Workspace。
type Runner interface {
	Execute(ctx context.Context, command string) Outcome
}

// CLIRunner 通过本机 gam 可执行文件执行检查命令。
type CLIRunner struct {
	Binary string // 默认 "gam"
}

func NewCLIRunner(binary string) *CLIRunner {
	if strings.TrimSpace(binary) == "" {
		binary = "gam"
	}
	return &CLIRunner{Binary: binary}
}

// Execute 执行一条 gam 命令。超时由调用方通过 ctx 控制。
// 任何内部异常都转化为失败 Outcome，不向上层抛 panic。
func (r *CLIRunner) Execute(ctx context.Context, command string) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Outcome{ErrText: fmt.Sprintf("gam runner panic: %v", rec)}
		}
	}()

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return Outcome{ErrText: "empty gam command"}
	}
	// 基线里的命令习惯带 gam 前缀，这里统一替换为配置的可执行文件。
	if fields[0] == "gam" {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return Outcome{ErrText: "gam command has no arguments"}
	}

	if _, err := exec.LookPath(r.Binary); err != nil {
		return Outcome{ErrText: fmt.Sprintf("%s not found in PATH", r.Binary)}
	}

	cmd := exec.CommandContext(ctx, r.Binary, fields...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out = Outcome{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			out.TimedOut = true
			out.ErrText = fmt.Sprintf("%s %s: timed out", r.Binary, strings.Join(fields, " "))
			return out
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		out.ErrText = fmt.Sprintf("%s %s: %s", r.Binary, strings.Join(fields, " "), msg)
		return out
	}

	out.OK = true
	return out
}

// Transient 判断一次失败是否值得重试。
// 超时、限流和网络抖动视为瞬时失败；命令本身错误（未安装、参数错）不重试。
func Transient(o Outcome) bool {
	if o.OK {
		return false
	}
	if o.TimedOut {
		return true
	}
	text := strings.ToLower(o.ErrText + " " + o.Stderr)
	for _, hint := range []string{"quota", "rate limit", "ratelimit", "temporarily", "connection reset", "connection refused", "timed out", "503", "500"} {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}
