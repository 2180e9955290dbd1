package correlator

import (
	"html"
	"strings"
	"sync"
)

// Failure 一条失败的命令
type Failure struct {
	Command string
	Err     error
}

// ErrorAccumulator 按提交顺序收集一批命令中的失败项
type ErrorAccumulator struct {
	mu       sync.Mutex
	failures []Failure
}

func NewErrorAccumulator() *ErrorAccumulator {
	return &ErrorAccumulator{}
}

func (a *ErrorAccumulator) Add(command string, err error) {
	a.mu.Lock()
	a.failures = append(a.failures, Failure{Command: command, Err: err})
	a.mu.Unlock()
}

func (a *ErrorAccumulator) Reset() {
	a.mu.Lock()
	a.failures = nil
	a.mu.Unlock()
}

func (a *ErrorAccumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.failures)
}

func (a *ErrorAccumulator) Failures() []Failure {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Failure, len(a.failures))
	copy(out, a.failures)
	return out
}

func (a *ErrorAccumulator) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.failures))
	for _, f := range a.failures {
		out = append(out, f.Command)
	}
	return out
}

// Render 渲染为项目符号列表, 每项 "• cmd<br>"
func (a *ErrorAccumulator) Render() string {
	var b strings.Builder
	for _, cmd := range a.Commands() {
		b.WriteString("• ")
		b.WriteString(html.EscapeString(cmd))
		b.WriteString("<br>")
	}
	return b.String()
}
