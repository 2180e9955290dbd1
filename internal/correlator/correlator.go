package correlator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"lcr-webgui/internal/monitor"
	"lcr-webgui/internal/session"
	"lcr-webgui/pkg/protocol"
)

// Link 关联器所需的会话能力
type Link interface {
	Send(text string) error
	Received() *session.Log
}

// Outcome 关联结果
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeMatched
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeMatched:
		return "matched"
	case OutcomeTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// ScanPolicy 每次轮询扫描的范围
type ScanPolicy int

const (
	// ScanWhole 每次检查整个缓冲区（可能匹配到其他命令的响应）
	ScanWhole ScanPolicy = iota
	// ScanForward 只检查发送之后追加的数据; Clear 后从新缓冲区开头开始
	ScanForward
)

func ParseScanPolicy(s string) (ScanPolicy, error) {
	switch s {
	case "", "whole":
		return ScanWhole, nil
	case "forward":
		return ScanForward, nil
	default:
		return ScanWhole, fmt.Errorf("未知扫描策略: %q", s)
	}
}

type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
	Policy       ScanPolicy
	Log          *logrus.Logger
}

// PendingCommand 一次进行中的关联
type PendingCommand struct {
	ID       string
	Command  string
	Token    string
	Attempts int
	Outcome  Outcome
}

// Err 超时返回 *protocol.CorrelationTimeout, 否则 nil
func (pc *PendingCommand) Err() error {
	if pc.Outcome == OutcomeTimedOut {
		return &protocol.CorrelationTimeout{Command: pc.Command, Attempts: pc.Attempts}
	}
	return nil
}

type Correlator struct {
	link        Link
	interval    time.Duration
	maxAttempts int
	policy      ScanPolicy
	log         *logrus.Logger
}

func New(link Link, opts Options) *Correlator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = protocol.DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = protocol.DefaultMaxAttempts
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	return &Correlator{
		link:        link,
		interval:    opts.PollInterval,
		maxAttempts: opts.MaxAttempts,
		policy:      opts.Policy,
		log:         opts.Log,
	}
}

// Pattern 构造匹配模式: 某一行包含 TOKEN, 之后任意字符, 行尾为 OK
func Pattern(token string) (*regexp.Regexp, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return nil, &protocol.ValidationError{Field: "token", Value: token}
	}
	return regexp.Compile(`(?im)` + regexp.QuoteMeta(token) + `.+` + protocol.TerminalMarker + `\r?$`)
}

// Fire 发送命令, 不做关联
func (c *Correlator) Fire(command string) error {
	if err := c.link.Send(command); err != nil {
		c.log.Errorf("发送命令失败 [%s]: %v", command, err)
		return err
	}
	monitor.CommandsSent.WithLabelValues("fire").Inc()
	return nil
}

// Correlate 发送命令并轮询接收缓冲区, 直到匹配或尝试次数用尽.
// ctx 取消时提前返回 ctx.Err(); 超时不作为 error 返回, 见 PendingCommand.Outcome.
func (c *Correlator) Correlate(ctx context.Context, command, token string) (*PendingCommand, error) {
	pattern, err := Pattern(token)
	if err != nil {
		return nil, err
	}

	pc := &PendingCommand{
		ID:      ulid.Make().String(),
		Command: command,
		Token:   token,
	}

	received := c.link.Received()
	start := received.Snapshot()
	offset, gen := len(start.Text), start.Gen

	if err := c.link.Send(command); err != nil {
		c.log.Errorf("发送命令失败 [%s]: %v", command, err)
		return pc, err
	}
	monitor.CommandsSent.WithLabelValues("correlate").Inc()
	c.log.Debugf("关联开始 [%s]: 命令=%q, 标记=%q", pc.ID, command, token)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for pc.Attempts < c.maxAttempts {
		pc.Attempts++

		snap := received.Snapshot()
		text := snap.Text
		if c.policy == ScanForward {
			if snap.Gen != gen || offset > len(text) {
				offset, gen = 0, snap.Gen
			}
			text = text[offset:]
		}

		if pattern.MatchString(text) {
			pc.Outcome = OutcomeMatched
			c.finish(pc)
			return pc, nil
		}

		select {
		case <-ctx.Done():
			c.log.Warnf("关联取消 [%s]: %q, 已尝试 %d 次", pc.ID, command, pc.Attempts)
			return pc, ctx.Err()
		case <-ticker.C:
		}
	}

	pc.Outcome = OutcomeTimedOut
	c.finish(pc)
	return pc, nil
}

func (c *Correlator) finish(pc *PendingCommand) {
	monitor.Correlations.WithLabelValues(pc.Outcome.String()).Inc()
	monitor.CorrelationAttempts.Observe(float64(pc.Attempts))

	if pc.Outcome == OutcomeMatched {
		c.log.Infof("命令已确认 [%s]: %q (第 %d 次轮询)", pc.ID, pc.Command, pc.Attempts)
		return
	}
	c.log.Warnf("命令超时 [%s]: %q (%d 次轮询)", pc.ID, pc.Command, pc.Attempts)
}
