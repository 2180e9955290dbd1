package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"lcr-webgui/pkg/protocol"
)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse 解析一行仪器输出
func (p *Parser) Parse(deviceID string, line []byte) *protocol.ParseResult {
	result := &protocol.ParseResult{
		Success: false,
	}

	line = bytes.TrimRight(line, "\r\n")

	if len(line) == 0 {
		result.Error = fmt.Errorf("空行")
		return result
	}

	if !utf8.Valid(line) {
		result.Error = fmt.Errorf("非 UTF-8 数据: % x", line)
		return result
	}

	text := string(line)

	result.Success = true
	result.Data = &protocol.InstrumentLine{
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Text:      text,
		Terminal:  IsTerminal(text),
	}
	return result
}

// ParseLines 解析一个完整分块中的所有行（末尾不完整的行也作为一行）
func (p *Parser) ParseLines(deviceID string, data []byte) []*protocol.ParseResult {
	var results []*protocol.ParseResult

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		results = append(results, p.Parse(deviceID, line))
	}

	return results
}

// IsTerminal 行尾是否为终止状态标记
func IsTerminal(text string) bool {
	return strings.HasSuffix(strings.ToUpper(strings.TrimSpace(text)), protocol.TerminalMarker)
}

// Splitter 按换行切分字节流, 保留不完整的行直到下一次输入
type Splitter struct {
	pending []byte
	maxLine int
}

func NewSplitter(maxLine int) *Splitter {
	if maxLine <= 0 {
		maxLine = protocol.MaxLineLength
	}
	return &Splitter{maxLine: maxLine}
}

// Feed 追加数据并返回所有完整的行（不含换行符）
func (s *Splitter) Feed(data []byte) [][]byte {
	s.pending = append(s.pending, data...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(s.pending, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, clone(s.pending[:idx]))
		s.pending = s.pending[idx+1:]
	}

	// 超长且没有换行, 强制切分
	for len(s.pending) >= s.maxLine {
		lines = append(lines, clone(s.pending[:s.maxLine]))
		s.pending = s.pending[s.maxLine:]
	}

	return lines
}

// Flush 返回剩余的不完整行
func (s *Splitter) Flush() []byte {
	if len(s.pending) == 0 {
		return nil
	}
	rest := clone(s.pending)
	s.pending = s.pending[:0]
	return rest
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
