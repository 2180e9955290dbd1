package panel

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"lcr-webgui/internal/correlator"
	"lcr-webgui/internal/session"
	"lcr-webgui/pkg/protocol"
)

// Link 面板使用的会话能力
type Link interface {
	correlator.Link
	SendJSON(v any) error
	Clear()
}

// CalibrationForm 摆锤校准表单, 空字段不发送
type CalibrationForm struct {
	IDString    string
	MaxPosition string
}

// ExperimentForm 启动实验表单（原始文本输入）
type ExperimentForm struct {
	NumSensors string
	Duration   string
}

type Options struct {
	Pacing time.Duration
	Log    *logrus.Logger
}

type Panel struct {
	link    Link
	corr    *correlator.Correlator
	display *Display
	pacing  time.Duration
	log     *logrus.Logger
}

func New(link Link, corr *correlator.Correlator, display *Display, opts Options) *Panel {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	return &Panel{
		link:    link,
		corr:    corr,
		display: display,
		pacing:  opts.Pacing,
		log:     opts.Log,
	}
}

func (p *Panel) Display() *Display {
	return p.display
}

// Received 当前接收缓冲区内容
func (p *Panel) Received() string {
	return p.link.Received().Snapshot().Text
}

// Clear 清空接收缓冲区
func (p *Panel) Clear() {
	p.link.Clear()
}

// Calibrate 提交校准表单: 每个非空字段一条关联命令, 共享一个错误列表
func (p *Panel) Calibrate(ctx context.Context, form CalibrationForm) (correlator.BatchResult, error) {
	idString := strings.TrimSpace(form.IDString)
	maxPosRaw := strings.TrimSpace(form.MaxPosition)

	var maxPos float64
	if maxPosRaw != "" {
		v, err := strconv.ParseFloat(maxPosRaw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			p.log.Warnf("校准参数无效: maximum position=%q", form.MaxPosition)
			verr := &protocol.ValidationError{Field: "max_pos", Value: form.MaxPosition}
			p.display.ShowInvalid(verr)
			return correlator.BatchResult{}, verr
		}
		maxPos = v
	}

	// 表单为空时不发送, 只显示确认弹窗
	if idString == "" && maxPosRaw == "" {
		p.display.ShowModal(ModalCommand)
		return correlator.BatchResult{}, nil
	}

	batch := p.corr.NewBatch(p.display)
	sent := false

	if idString != "" {
		if _, err := batch.Correlate(ctx, "set ID string "+idString, "ID string"); err != nil {
			return batch.Finish(), err
		}
		sent = true
	}

	if maxPosRaw != "" {
		if sent {
			if err := batch.Pace(ctx, p.pacing); err != nil {
				return batch.Finish(), err
			}
		}
		cmd := "set maximum position " + strconv.FormatFloat(maxPos, 'f', -1, 64)
		if _, err := batch.Correlate(ctx, cmd, "maximum position"); err != nil {
			return batch.Finish(), err
		}
	}

	result := batch.Finish()
	p.display.ShowModal(ModalCommand)
	return result, nil
}

// SubmitExperiment 解析表单并启动实验
func (p *Panel) SubmitExperiment(form ExperimentForm) error {
	numSensors, err := strconv.Atoi(strings.TrimSpace(form.NumSensors))
	if err != nil {
		p.display.ShowModal(ModalError)
		return &protocol.ValidationError{Field: "num_sensors", Value: form.NumSensors}
	}
	duration, err := strconv.Atoi(strings.TrimSpace(form.Duration))
	if err != nil {
		p.display.ShowModal(ModalError)
		return &protocol.ValidationError{Field: "duration", Value: form.Duration}
	}
	return p.StartExperiment(numSensors, duration)
}

// StartExperiment 发送启动命令后立即显示确认, 不等待设备响应
func (p *Panel) StartExperiment(numSensors, duration int) error {
	if numSensors <= 0 {
		p.display.ShowModal(ModalError)
		return &protocol.ValidationError{Field: "num_sensors", Value: strconv.Itoa(numSensors)}
	}
	if duration <= 0 {
		p.display.ShowModal(ModalError)
		return &protocol.ValidationError{Field: "duration", Value: strconv.Itoa(duration)}
	}

	cmd := protocol.StartCommand{
		Device:     protocol.DeviceSensors,
		NumSensors: numSensors,
		Duration:   duration,
	}
	if err := p.link.SendJSON(cmd); err != nil {
		p.log.Errorf("发送启动命令失败: %v", err)
		return err
	}

	p.log.Infof("实验已启动: 传感器=%d, 时长=%ds", numSensors, duration)
	p.display.ShowModal(ModalCommand)
	return nil
}

// SendCommand 发送命令框中的任意命令
func (p *Panel) SendCommand(cmd string) error {
	return p.corr.Fire(cmd)
}

func (p *Panel) GoToOrigin() error {
	return p.corr.Fire(protocol.CmdGoToOrigin)
}

func (p *Panel) MoveForward() error {
	return p.corr.Fire(protocol.CmdMoveForward)
}

func (p *Panel) MoveToPhotodiode() error {
	return p.corr.Fire(protocol.CmdMoveToPhotodiode)
}

var _ Link = (*session.Session)(nil)
