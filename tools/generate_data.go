package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"lcr-webgui/internal/parser"
)

// 生成仪器控制器输出样例, 用于调试面板和 /ajax 日志接口
func main() {
	sensors := flag.Int("sensors", 4, "传感器数量")
	seconds := flag.Int("duration", 10, "实验时长（秒）")
	idString := flag.String("id", "pendulum-01", "摆锤 ID 字符串")
	maxPos := flag.Float64("max-pos", 40, "最大位置")
	out := flag.String("out", "", "输出文件 (默认标准输出)")
	check := flag.Bool("check", false, "逐行显示解析结果")
	flag.Parse()

	transcript := generateTranscript(*idString, *maxPos, *sensors, *seconds)

	if *check {
		p := parser.NewParser()
		for i, res := range p.ParseLines("sample", []byte(transcript)) {
			if !res.Success {
				fmt.Printf("%3d ✗ %s\n", i+1, res.Error)
				continue
			}
			mark := " "
			if res.Data.Terminal {
				mark = "✓"
			}
			fmt.Printf("%3d %s %s\n", i+1, mark, res.Data.Text)
		}
		return
	}

	if *out == "" {
		fmt.Print(transcript)
		return
	}
	if err := os.WriteFile(*out, []byte(transcript), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "写入失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("已写入 %s\n", *out)
}

// generateTranscript 一次完整实验: 校准应答、移动应答、测量数据
func generateTranscript(idString string, maxPos float64, sensors, seconds int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ID string %s OK\r\n", idString)
	fmt.Fprintf(&b, "maximum position %g OK\r\n", maxPos)
	b.WriteString("go to origin 2 2 OK\r\n")
	fmt.Fprintf(&b, "starting experiment: %d sensors, %d s\r\n", sensors, seconds)

	for sec := 1; sec <= seconds; sec++ {
		values := make([]string, sensors)
		for i := range values {
			// 电容读数 (nF)
			values[i] = fmt.Sprintf("%.3f", 1+rand.Float64())
		}
		fmt.Fprintf(&b, "t=%d %s\r\n", sec, strings.Join(values, " "))
	}
	b.WriteString("experiment done OK\r\n")

	return b.String()
}
