package panel

import (
	"html"
	"sync"

	"lcr-webgui/internal/correlator"
	"lcr-webgui/pkg/protocol"
)

// Translator 文本查找能力
type Translator interface {
	T(key string) string
}

type Modal string

const (
	ModalNone    Modal = ""
	ModalCommand Modal = "cmdModal"
	ModalError   Modal = "errModal"
)

// View 显示状态快照
type View struct {
	OKVisible    bool
	OKText       string
	AlertVisible bool
	AlertTitle   string
	AlertHTML    string
	Modal        Modal
	ModalText    string
	DeviceLog    string
}

// Display 面板上的提示区、弹窗和设备日志
type Display struct {
	mu   sync.Mutex
	tr   Translator
	view View
}

func NewDisplay(tr Translator) *Display {
	return &Display{
		tr: tr,
		view: View{
			DeviceLog: tr.T("index.log"),
		},
	}
}

// ShowSuccess 实现 correlator.Indicator
func (d *Display) ShowSuccess(errs *correlator.ErrorAccumulator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view.AlertHTML = errs.Render()
	d.view.AlertVisible = false
	d.view.OKVisible = true
	d.view.OKText = d.tr.T("command.ok")
}

// ShowFailures 实现 correlator.Indicator
func (d *Display) ShowFailures(errs *correlator.ErrorAccumulator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view.OKVisible = false
	d.view.AlertTitle = d.tr.T("command.err")
	d.view.AlertHTML = errs.Render()
	d.view.AlertVisible = true
}

// ShowInvalid 表单校验失败: 显示错误提示, 不发送任何命令
func (d *Display) ShowInvalid(verr *protocol.ValidationError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view.OKVisible = false
	d.view.AlertTitle = d.tr.T("command.invalid")
	d.view.AlertHTML = "• " + html.EscapeString(verr.Field+": "+verr.Value) + "<br>"
	d.view.AlertVisible = true
}

func (d *Display) ShowModal(m Modal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view.Modal = m
	switch m {
	case ModalCommand:
		d.view.ModalText = d.tr.T("command.sent")
	case ModalError:
		d.view.ModalText = d.tr.T("command.error")
	default:
		d.view.ModalText = ""
	}
}

func (d *Display) DismissModal() {
	d.ShowModal(ModalNone)
}

// SetDeviceLog 替换设备日志内容
func (d *Display) SetDeviceLog(contents string) {
	d.mu.Lock()
	d.view.DeviceLog = contents
	d.mu.Unlock()
}

func (d *Display) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}
