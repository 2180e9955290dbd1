package monitor

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// 面板客户端指标
	ActiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lcr_ws_active_clients",
		Help: "当前 WebSocket 客户端数",
	})

	TotalClients = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lcr_ws_clients_total",
		Help: "WebSocket 客户端连接总数",
	})

	// 仪器控制器指标
	ActiveInstruments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lcr_instrument_active_connections",
		Help: "当前仪器控制器连接数",
	})

	TotalInstruments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lcr_instrument_connections_total",
		Help: "仪器控制器连接总数",
	})

	LinesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcr_instrument_lines_total",
			Help: "仪器输出行数",
		},
		[]string{"device_id"},
	)

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lcr_instrument_bytes_received_total",
		Help: "接收的字节总数",
	})

	CommandsForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lcr_commands_forwarded_total",
		Help: "转发给仪器的命令数",
	})

	DataErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lcr_data_errors_total",
		Help: "处理错误数",
	})

	LogRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcr_log_requests_total",
			Help: "日志轮询请求数",
		},
		[]string{"result"},
	)

	SettingsUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcr_settings_updates_total",
			Help: "设置表单提交数",
		},
		[]string{"page", "result"},
	)

	// 关联指标
	CommandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcr_commands_sent_total",
			Help: "面板发送的命令数",
		},
		[]string{"kind"},
	)

	Correlations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcr_correlations_total",
			Help: "按结果统计的关联次数",
		},
		[]string{"outcome"},
	)

	CorrelationAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lcr_correlation_attempts",
		Help:    "关联结束时的轮询次数",
		Buckets: []float64{1, 2, 3, 5, 10, 20, 30},
	})

	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lcr_goroutines",
		Help: "当前Goroutine数量",
	})

	MemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lcr_memory_usage_bytes",
		Help: "内存使用量",
	})
)

var (
	registry     = prometheus.NewRegistry()
	registerOnce sync.Once
)

type Monitor struct {
	log *logrus.Logger
}

func NewMonitor(log *logrus.Logger) *Monitor {
	// 指标只注册一次
	registerOnce.Do(func() {
		registry.MustRegister(
			ActiveClients,
			TotalClients,
			ActiveInstruments,
			TotalInstruments,
			LinesReceived,
			BytesReceived,
			CommandsForwarded,
			DataErrors,
			LogRequests,
			SettingsUpdates,
			CommandsSent,
			Correlations,
			CorrelationAttempts,
			GoroutineCount,
			MemoryUsage,
		)
	})

	return &Monitor{log: log}
}

// Register 在 mux 上挂载 /metrics 和 /health
func (m *Monitor) Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// StartRuntimeMonitor 定期采集运行时指标, ctx 结束时停止
func (m *Monitor) StartRuntimeMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			GoroutineCount.Set(float64(runtime.NumGoroutine()))

			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			MemoryUsage.Set(float64(memStats.Alloc))

			m.log.Debugf("Goroutines: %d, 内存: %.2f MB",
				runtime.NumGoroutine(),
				float64(memStats.Alloc)/1024/1024,
			)
		}
	}()
}
