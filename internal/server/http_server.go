package server

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lcr-webgui/internal/monitor"
	"lcr-webgui/pkg/protocol"
)

// /ajax 请求体上限
const maxAjaxBody = 64 << 10

// Handler 返回所有 HTTP 路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	wsPath := s.config.Server.WSPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	mux.HandleFunc(wsPath, s.handleWebSocket)
	mux.HandleFunc("/ajax", s.handleAjax)
	mux.HandleFunc("/form", s.handleForm)
	s.monitor.Register(mux)

	return mux
}

// handleWebSocket 面板连接: 客户端消息转发给仪器, 仪器输出通过 Hub 广播
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("WebSocket 升级失败: %v", err)
		return
	}

	c, err := s.hub.Register(conn)
	if err != nil {
		s.log.Warnf("拒绝客户端 %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	defer s.hub.Unregister(c)

	s.log.Infof("新客户端连接: %s", conn.RemoteAddr())
	s.hub.Send(c, protocol.Greeting)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Infof("客户端连接关闭: %s", conn.RemoteAddr())
			return
		}

		msg := string(data)
		s.log.Debugf("收到客户端命令: %q", msg)
		s.Forward(msg)
	}
}

// handleAjax 返回日志文件内容: {"status":"ok","contents":<string|false>}
func (s *Server) handleAjax(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	var req protocol.LogRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAjaxBody))
	if err != nil || json.Unmarshal(body, &req) != nil {
		monitor.LogRequests.WithLabelValues("invalid").Inc()
		writeJSON(w, protocol.LogResponse{Status: "ok"})
		return
	}

	contents, ok := s.readLog(req.FName)
	if !ok {
		monitor.LogRequests.WithLabelValues("missing").Inc()
		writeJSON(w, protocol.LogResponse{Status: "ok", Contents: false})
		return
	}

	monitor.LogRequests.WithLabelValues("ok").Inc()
	writeJSON(w, protocol.LogResponse{Status: "ok", Contents: contents})
}

// readLog 只读取日志目录下的文件, 忽略请求中的目录部分
func (s *Server) readLog(fname string) (string, bool) {
	name := filepath.Base(filepath.Clean("/" + strings.TrimSpace(fname)))
	if name == "/" || name == "." || name == "" {
		return "", false
	}

	data, err := os.ReadFile(filepath.Join(s.config.Server.LogDir, name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warnf("读取日志文件失败 [%s]: %v", name, err)
		}
		return "", false
	}
	return string(data), true
}

// handleForm GET 返回当前设置; POST 按 page_id 保存实验参数或 Arduino 设置
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch r.Method {
	case http.MethodGet:
		st, err := s.settings.Load()
		if err != nil {
			s.log.Errorf("读取设置失败: %v", err)
			writeStatusJSON(w, http.StatusInternalServerError, protocol.FormResponse{Status: "error", Error: err.Error()})
			return
		}
		writeJSON(w, protocol.FormResponse{Status: "ok", Settings: st})
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		writeStatusJSON(w, http.StatusMethodNotAllowed, protocol.FormResponse{Status: "error", Error: "method not allowed"})
		return
	}

	var req protocol.FormRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAjaxBody))
	if err != nil || json.Unmarshal(body, &req) != nil {
		monitor.SettingsUpdates.WithLabelValues("unknown", "invalid").Inc()
		writeStatusJSON(w, http.StatusBadRequest, protocol.FormResponse{Status: "error", Error: "invalid json"})
		return
	}

	var (
		page string
		st   *protocol.Settings
	)
	switch req.PageID {
	case protocol.FormPageExperiment:
		page = "experiment"
		if req.Experiment == nil {
			err = &protocol.ValidationError{Field: "experiment", Value: ""}
			break
		}
		st, err = s.settings.SaveExperiment(*req.Experiment)
	case protocol.FormPageArduino:
		page = "arduino"
		if req.Arduino1 == nil || req.Arduino2 == nil {
			err = &protocol.ValidationError{Field: "arduino", Value: ""}
			break
		}
		st, err = s.settings.SaveArduinos(*req.Arduino1, *req.Arduino2)
	default:
		page = "unknown"
		err = &protocol.ValidationError{Field: "page_id", Value: strconv.Itoa(req.PageID)}
	}

	if err != nil {
		code := http.StatusInternalServerError
		var verr *protocol.ValidationError
		if errors.As(err, &verr) {
			code = http.StatusBadRequest
			monitor.SettingsUpdates.WithLabelValues(page, "invalid").Inc()
		} else {
			monitor.SettingsUpdates.WithLabelValues(page, "error").Inc()
			s.log.Errorf("保存设置失败 [%s]: %v", page, err)
		}
		writeStatusJSON(w, code, protocol.FormResponse{Status: "error", Error: err.Error()})
		return
	}

	monitor.SettingsUpdates.WithLabelValues(page, "ok").Inc()
	writeJSON(w, protocol.FormResponse{Status: "ok", Settings: st})
}

func writeStatusJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
