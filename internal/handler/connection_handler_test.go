package handler

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lcr-webgui/internal/parser"
	"lcr-webgui/pkg/protocol"
)

type recordingHub struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingHub) Broadcast(text string) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
}

func (r *recordingHub) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type recordingPublisher struct {
	mu    sync.Mutex
	lines []*protocol.InstrumentLine
}

func (r *recordingPublisher) Publish(_ context.Context, line *protocol.InstrumentLine) error {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func newTestHandler(conn net.Conn) (*ConnectionHandler, *recordingHub, *recordingPublisher, *bytes.Buffer) {
	return newTestHandlerSize(conn, 64)
}

func newTestHandlerSize(conn net.Conn, bufferSize int) (*ConnectionHandler, *recordingHub, *recordingPublisher, *bytes.Buffer) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	var devBuf bytes.Buffer
	deviceLog := logrus.New()
	deviceLog.SetOutput(&devBuf)
	deviceLog.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	hub := &recordingHub{}
	pub := &recordingPublisher{}
	h := NewConnectionHandler(conn, parser.NewParser(), pub, hub, deviceLog, log, bufferSize, time.Second)
	return h, hub, pub, &devBuf
}

func TestHandleBroadcastsLines(t *testing.T) {
	server, client := net.Pipe()
	h, hub, pub, devBuf := newTestHandler(server)

	done := make(chan struct{})
	go func() {
		h.Handle(context.Background())
		close(done)
	}()

	_, err := client.Write([]byte("telemetry 1 2\r\nID string ab"))
	require.NoError(t, err)
	_, err = client.Write([]byte("c OK\r\nunterminated"))
	require.NoError(t, err)
	client.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle 未返回")
	}

	assert.Equal(t, []string{"telemetry 1 2", "ID string abc OK", "unterminated"}, hub.Texts())

	require.Len(t, pub.lines, 3)
	assert.False(t, pub.lines[0].Terminal)
	assert.True(t, pub.lines[1].Terminal)
	assert.Equal(t, "pipe", pub.lines[1].DeviceID)

	assert.Contains(t, devBuf.String(), `msg="ID string abc OK"`)
	assert.Contains(t, devBuf.String(), "device=pipe")
}

func TestHandleStopsOnContext(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	h, _, _, _ := newTestHandler(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Handle(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ctx 取消后 Handle 未返回")
	}
}

func TestSendAppendsNewline(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()
	h, _, _, _ := newTestHandler(server)

	reader := bufio.NewReader(client)
	got := make(chan string, 2)
	go func() {
		for i := 0; i < 2; i++ {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			got <- line
		}
	}()

	require.NoError(t, h.Send("set ID string abc"))
	require.NoError(t, h.Send("go to origin 2 2\n"))

	assert.Equal(t, "set ID string abc\n", <-got)
	assert.Equal(t, "go to origin 2 2\n", <-got)
}

func TestHandleZeroBufferSizeStillReads(t *testing.T) {
	server, client := net.Pipe()
	h, hub, _, _ := newTestHandlerSize(server, 0)

	done := make(chan struct{})
	go func() {
		h.Handle(context.Background())
		close(done)
	}()

	_, err := client.Write([]byte("ID string a OK\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(hub.Texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ID string a OK"}, hub.Texts())

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle 未返回")
	}
}
