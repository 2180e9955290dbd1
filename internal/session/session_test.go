package session

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lcr-webgui/pkg/protocol"
)

// echoPeer 模拟控制器: 把收到的每条消息回显, 并在前面加上 "echo: "; 收到 quit 时断开
func echoPeer(t *testing.T) (*httptest.Server, Endpoint) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil || string(data) == "quit" {
				return
			}
			if err := conn.WriteMessage(mt, append([]byte("echo: "), data...)); err != nil {
				return
			}
		}
	})
	ts := httptest.NewServer(mux)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(ts.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return ts, Endpoint{Host: host, Port: port, Path: "/ws"}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestEndpoint(t *testing.T) {
	ep := Endpoint{Host: "192.168.0.10", Port: 8080, Path: "/ws"}
	assert.Equal(t, "ws://192.168.0.10:8080/ws", ep.URL())

	parsed, err := ParseEndpoint("ws://localhost:9000/ws")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "localhost", Port: 9000, Path: "/ws"}, parsed)

	_, err = ParseEndpoint("http://localhost:9000/ws")
	assert.Error(t, err)
	_, err = ParseEndpoint("ws://localhost/ws")
	assert.Error(t, err)
}

func TestLogAppendSnapshotClear(t *testing.T) {
	l := NewLog()
	l.Append("a")
	l.Append("b c")

	snap := l.Snapshot()
	assert.Equal(t, "a\nb c\n", snap.Text)
	assert.Equal(t, uint64(0), snap.Gen)
	assert.Equal(t, 6, l.Len())

	l.Clear()
	snap = l.Snapshot()
	assert.Empty(t, snap.Text)
	assert.Equal(t, uint64(1), snap.Gen)

	l.Append("d")
	assert.Equal(t, "d\n", l.Snapshot().Text)
}

func TestSessionSendReceive(t *testing.T) {
	ts, ep := echoPeer(t)
	defer ts.Close()

	s, err := Open(context.Background(), ep, Options{Log: quietLogger()})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, StateOpen, s.State())

	var chunks []string
	got := make(chan string, 4)
	cancel := s.Subscribe(func(chunk string) { got <- chunk })

	require.NoError(t, s.Send("set ID string abc"))
	require.NoError(t, s.Send("move forward 40 2 2"))

	for i := 0; i < 2; i++ {
		select {
		case c := <-got:
			chunks = append(chunks, c)
		case <-time.After(2 * time.Second):
			t.Fatal("未收到回显")
		}
	}
	cancel()

	assert.Equal(t, []string{"echo: set ID string abc", "echo: move forward 40 2 2"}, chunks)
	assert.Equal(t, "echo: set ID string abc\necho: move forward 40 2 2\n", s.Received().Snapshot().Text)

	s.Clear()
	assert.Equal(t, 0, s.Received().Len())
}

func TestSubscribersCalledInOrder(t *testing.T) {
	ts, ep := echoPeer(t)
	defer ts.Close()

	s, err := Open(context.Background(), ep, Options{Log: quietLogger()})
	require.NoError(t, err)
	defer s.Close()

	order := make(chan int, 32)
	var cancels []func()
	for i := 0; i < 6; i++ {
		i := i
		cancels = append(cancels, s.Subscribe(func(string) { order <- i }))
	}
	// 取消中间的订阅后, 其余保持注册顺序
	cancels[2]()

	require.NoError(t, s.Send("ping"))

	var got []int
	for len(got) < 5 {
		select {
		case i := <-order:
			got = append(got, i)
		case <-time.After(2 * time.Second):
			t.Fatal("未收到回显")
		}
	}
	assert.Equal(t, []int{0, 1, 3, 4, 5}, got)
}

func TestSessionSendJSON(t *testing.T) {
	ts, ep := echoPeer(t)
	defer ts.Close()

	s, err := Open(context.Background(), ep, Options{Log: quietLogger()})
	require.NoError(t, err)
	defer s.Close()

	cmd := protocol.StartCommand{Device: protocol.DeviceSensors, NumSensors: 4, Duration: 60}
	require.NoError(t, s.SendJSON(cmd))

	waitFor(t, func() bool { return s.Received().Len() > 0 })
	assert.Equal(t, `echo: {"device":"sensors","num_sensors":4,"duration":60}`+"\n", s.Received().Snapshot().Text)
}

func TestOpenUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Open(context.Background(), Endpoint{Host: "127.0.0.1", Port: port}, Options{Log: quietLogger()})
	require.Error(t, err)

	var connErr *protocol.ConnectionError
	assert.True(t, errors.As(err, &connErr))
	assert.Contains(t, connErr.Endpoint, strconv.Itoa(port))
}

func TestSendAfterClose(t *testing.T) {
	ts, ep := echoPeer(t)
	defer ts.Close()

	s, err := Open(context.Background(), ep, Options{Log: quietLogger()})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Send("go to origin 2 2"), protocol.ErrNotConnected)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done 未关闭")
	}
}

func TestPeerDisconnect(t *testing.T) {
	ts, ep := echoPeer(t)
	defer ts.Close()

	s, err := Open(context.Background(), ep, Options{Log: quietLogger()})
	require.NoError(t, err)

	require.NoError(t, s.Send("quit"))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("对端断开后 Done 未关闭")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Send("x"), protocol.ErrNotConnected)
	assert.NoError(t, s.Close())
}
