package correlator

import (
	"context"
	"errors"
	"time"
)

// Indicator 接收每次关联结果的显示端
type Indicator interface {
	// ShowSuccess 清除待显示的错误并显示成功提示
	ShowSuccess(failures *ErrorAccumulator)
	// ShowFailures 隐藏成功提示并显示累积的失败列表
	ShowFailures(failures *ErrorAccumulator)
}

type nopIndicator struct{}

func (nopIndicator) ShowSuccess(*ErrorAccumulator)  {}
func (nopIndicator) ShowFailures(*ErrorAccumulator) {}

// Batch 一次用户操作发出的一组关联命令, 共享同一个错误累积器
type Batch struct {
	c         *Correlator
	errs      *ErrorAccumulator
	indicator Indicator
	commands  []*PendingCommand
}

// BatchResult 批次最终结果
type BatchResult struct {
	Commands []*PendingCommand
	Failures []Failure
}

func (r BatchResult) OK() bool {
	return len(r.Failures) == 0
}

// NewBatch 开始新批次, 错误列表从空开始
func (c *Correlator) NewBatch(indicator Indicator) *Batch {
	if indicator == nil {
		indicator = nopIndicator{}
	}
	return &Batch{
		c:         c,
		errs:      NewErrorAccumulator(),
		indicator: indicator,
	}
}

func (b *Batch) Errors() *ErrorAccumulator {
	return b.errs
}

// Correlate 顺序执行一次关联. 超时或发送失败记入错误列表, 不中断批次;
// 只有 ctx 取消会返回 error.
func (b *Batch) Correlate(ctx context.Context, command, token string) (*PendingCommand, error) {
	pc, err := b.c.Correlate(ctx, command, token)
	if pc != nil {
		b.commands = append(b.commands, pc)
	}

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return pc, err
	case err != nil:
		b.errs.Add(command, err)
		b.indicator.ShowFailures(b.errs)
	case pc.Outcome == OutcomeTimedOut:
		b.errs.Add(command, pc.Err())
		b.indicator.ShowFailures(b.errs)
	default:
		b.indicator.ShowSuccess(b.errs)
	}

	return pc, nil
}

// Pace 两条命令之间的非阻塞延迟
func (b *Batch) Pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Finish 所有关联结束后确定最终显示: 有失败则只显示失败列表
func (b *Batch) Finish() BatchResult {
	result := BatchResult{
		Commands: b.commands,
		Failures: b.errs.Failures(),
	}

	if result.OK() {
		b.indicator.ShowSuccess(b.errs)
	} else {
		b.indicator.ShowFailures(b.errs)
	}

	return result
}
