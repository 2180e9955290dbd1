package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lcr-webgui/internal/config"
	"lcr-webgui/internal/correlator"
	"lcr-webgui/internal/i18n"
	"lcr-webgui/internal/panel"
	"lcr-webgui/internal/session"
	"lcr-webgui/internal/settings"
	"lcr-webgui/internal/storage"
	"lcr-webgui/pkg/protocol"
)

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	inst   net.Listener
	logDir string
	cancel context.CancelFunc
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Server.LogDir = t.TempDir()
	cfg.Server.WriteTimeout = time.Second
	cfg.Instrument.ReadTimeout = time.Second
	if mutate != nil {
		mutate(cfg)
	}

	deviceLog, err := openDeviceLog(filepath.Join(cfg.Server.LogDir, cfg.Instrument.DeviceLog))
	require.NoError(t, err)

	srv := New(cfg, quietLogger(), storage.Discard{}, deviceLog)
	ts := httptest.NewServer(srv.Handler())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.ServeInstruments(ctx, ln)

	env := &testEnv{srv: srv, http: ts, inst: ln, logDir: cfg.Server.LogDir, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		srv.Hub().Close()
		ts.Close()
	})
	return env
}

func (e *testEnv) endpoint(t *testing.T) session.Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(e.http.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return session.Endpoint{Host: host, Port: port, Path: "/ws"}
}

// startInstrument 模拟仪器控制器: 对 "set <参数>" 回复 "<参数> OK", respond 为 false 时只记录
func startInstrument(t *testing.T, addr string, respond func(cmd string) bool) <-chan string {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	received := make(chan string, 16)
	go func() {
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimRight(line, "\r\n")
			received <- cmd
			if strings.HasPrefix(cmd, "set ") && (respond == nil || respond(cmd)) {
				conn.Write([]byte("status: busy\r\n" + strings.TrimPrefix(cmd, "set ") + " OK\r\n"))
			}
		}
	}()
	return received
}

func TestEndToEndCalibration(t *testing.T) {
	env := newTestEnv(t, nil)
	instCmds := startInstrument(t, env.inst.Addr().String(), nil)
	require.Eventually(t, func() bool { return env.srv.Instruments() == 1 }, 2*time.Second, 5*time.Millisecond)

	sess, err := session.Open(context.Background(), env.endpoint(t), session.Options{Log: quietLogger()})
	require.NoError(t, err)
	defer sess.Close()

	require.Eventually(t, func() bool {
		return strings.Contains(sess.Received().Snapshot().Text, protocol.Greeting)
	}, 2*time.Second, 5*time.Millisecond)

	tr, err := i18n.New("en", "pt")
	require.NoError(t, err)
	corr := correlator.New(sess, correlator.Options{PollInterval: 10 * time.Millisecond, MaxAttempts: 100, Log: quietLogger()})
	p := panel.New(sess, corr, panel.NewDisplay(tr), panel.Options{Pacing: 5 * time.Millisecond, Log: quietLogger()})

	result, err := p.Calibrate(context.Background(), panel.CalibrationForm{IDString: "abc", MaxPosition: "12.5"})
	require.NoError(t, err)
	assert.True(t, result.OK())

	assert.Equal(t, "set ID string abc", <-instCmds)
	assert.Equal(t, "set maximum position 12.5", <-instCmds)

	require.NoError(t, p.MoveForward())
	assert.Equal(t, "move forward 40 2 2", <-instCmds)

	require.NoError(t, p.StartExperiment(4, 60))
	assert.Equal(t, `{"device":"sensors","num_sensors":4,"duration":60}`, <-instCmds)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(env.logDir, "devices.log"))
		return err == nil && strings.Contains(string(data), "maximum position 12.5 OK")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEndToEndTimeout(t *testing.T) {
	env := newTestEnv(t, nil)
	startInstrument(t, env.inst.Addr().String(), func(cmd string) bool {
		return !strings.Contains(cmd, "ID string")
	})
	require.Eventually(t, func() bool { return env.srv.Instruments() == 1 }, 2*time.Second, 5*time.Millisecond)

	sess, err := session.Open(context.Background(), env.endpoint(t), session.Options{Log: quietLogger()})
	require.NoError(t, err)
	defer sess.Close()

	corr := correlator.New(sess, correlator.Options{PollInterval: 5 * time.Millisecond, MaxAttempts: 10, Log: quietLogger()})
	batch := corr.NewBatch(nil)
	_, err = batch.Correlate(context.Background(), "set ID string abc", "ID string")
	require.NoError(t, err)
	_, err = batch.Correlate(context.Background(), "set maximum position 1", "maximum position")
	require.NoError(t, err)

	result := batch.Finish()
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "set ID string abc", result.Failures[0].Command)
}

func TestBroadcastToMultipleClients(t *testing.T) {
	env := newTestEnv(t, nil)

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.http.URL, "http")+"/ws", nil)
		require.NoError(t, err)
		return conn
	}
	a, b := dial(), dial()
	defer a.Close()
	defer b.Close()

	read := func(conn *websocket.Conn) string {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, protocol.Greeting, read(a))
	assert.Equal(t, protocol.Greeting, read(b))

	env.srv.Hub().Broadcast("telemetry 1 2 3")
	assert.Equal(t, "telemetry 1 2 3", read(a))
	assert.Equal(t, "telemetry 1 2 3", read(b))
}

func TestMaxClients(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Server.MaxClients = 1 })
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return env.srv.Hub().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 1, env.srv.Hub().Len())
}

func TestForwardWithoutInstruments(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, 0, env.srv.Forward("go to origin 2 2"))
}

func postAjax(t *testing.T, url, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(url+"/ajax", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAjax(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.logDir, "experiment.log"), []byte("step 1\nstep 2\n"), 0o644))

	out := postAjax(t, env.http.URL, `{"fname":"experiment.log"}`)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "step 1\nstep 2\n", out["contents"])

	out = postAjax(t, env.http.URL, `{"fname":"missing.log"}`)
	assert.Equal(t, false, out["contents"])

	// 目录部分被忽略, 只在日志目录中查找
	out = postAjax(t, env.http.URL, `{"fname":"../../etc/passwd"}`)
	assert.Equal(t, false, out["contents"])

	out = postAjax(t, env.http.URL, `not json`)
	assert.Equal(t, "ok", out["status"])
	_, has := out["contents"]
	assert.False(t, has)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFormSettings(t *testing.T) {
	env := newTestEnv(t, nil)
	client := settings.NewClient(env.http.URL+"/form", nil)
	ctx := context.Background()

	st, err := client.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.Defaults(), st)

	st, err = client.SaveExperiment(ctx, protocol.ExperimentSettings{ValvesLoop: 2, SensorsLoop: 6, SensorsDuration: 5})
	require.NoError(t, err)
	assert.Equal(t, 6, st.Experiment.SensorsLoop)

	_, err = client.SaveArduinos(ctx,
		protocol.ArduinoSettings{Model: "UNO", Sensors: []string{"A 0"}},
		protocol.ArduinoSettings{Model: "MEGA", InvertOnOff: true},
	)
	require.NoError(t, err)

	// 保存在日志目录下, 两页互不覆盖
	data, err := os.ReadFile(filepath.Join(env.logDir, "settings.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "sensors_loop: 6")
	assert.Contains(t, string(data), "model: UNO")

	st, err = client.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Experiment.SensorsDuration)
	assert.Equal(t, "A0", st.Arduino1.Sensors[0])
	assert.True(t, st.Arduino2.InvertOnOff)
}

func TestFormRejectsInvalid(t *testing.T) {
	env := newTestEnv(t, nil)

	post := func(body string) (int, protocol.FormResponse) {
		resp, err := http.Post(env.http.URL+"/form", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()

		var out protocol.FormResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{`, "invalid json"},
		{"unknown page", `{"page_id":0}`, "page_id"},
		{"missing experiment", `{"page_id":1}`, "experiment"},
		{"non-positive loop", `{"page_id":1,"experiment":{"valves_loop":0,"sensors_loop":1,"sensors_duration":1}}`, "valves_loop"},
		{"missing arduino", `{"page_id":2,"arduino1":{"model":"MEGA"}}`, "arduino"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := post(tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", out.Status)
			assert.Contains(t, out.Error, tt.want)
		})
	}

	_, err := os.Stat(filepath.Join(env.logDir, "settings.yaml"))
	assert.True(t, os.IsNotExist(err))

	req, err := http.NewRequest(http.MethodDelete, env.http.URL+"/form", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
