package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"lcr-webgui/pkg/protocol"
)

// Defaults 首次运行时的设置
func Defaults() *protocol.Settings {
	return &protocol.Settings{
		Experiment: protocol.ExperimentSettings{
			ValvesLoop:      4,
			SensorsLoop:     8,
			SensorsDuration: 3,
		},
		Arduino1: defaultArduino(),
		Arduino2: defaultArduino(),
	}
}

func defaultArduino() protocol.ArduinoSettings {
	return protocol.ArduinoSettings{
		Model:   "MEGA",
		Sensors: make([]string, protocol.ArduinoChannels),
		Valves:  make([]string, protocol.ArduinoChannels),
	}
}

// Store 设置文件（YAML）. 每次保存只替换对应的部分, 其余保持不变
type Store struct {
	mu   sync.Mutex
	path string
	log  *logrus.Logger
}

func NewStore(path string, log *logrus.Logger) *Store {
	return &Store{path: path, log: log}
}

func (s *Store) Path() string {
	return s.path
}

// Load 读取设置, 文件不存在时返回默认值
func (s *Store) Load() (*protocol.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*protocol.Settings, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取设置文件失败: %w", err)
	}

	st := Defaults()
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("解析设置文件失败: %w", err)
	}
	return st, nil
}

// SaveExperiment 校验并保存实验参数
func (s *Store) SaveExperiment(exp protocol.ExperimentSettings) (*protocol.Settings, error) {
	if err := ValidateExperiment(exp); err != nil {
		return nil, err
	}

	return s.update(func(st *protocol.Settings) {
		st.Experiment = exp
	})
}

// SaveArduinos 同时保存两块 Arduino 的设置
func (s *Store) SaveArduinos(a1, a2 protocol.ArduinoSettings) (*protocol.Settings, error) {
	n1, err := NormalizeArduino("arduino1", a1)
	if err != nil {
		return nil, err
	}
	n2, err := NormalizeArduino("arduino2", a2)
	if err != nil {
		return nil, err
	}

	return s.update(func(st *protocol.Settings) {
		st.Arduino1 = n1
		st.Arduino2 = n2
	})
}

func (s *Store) update(apply func(st *protocol.Settings)) (*protocol.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	apply(st)

	if err := s.write(st); err != nil {
		return nil, err
	}
	s.log.Infof("设置已保存: %s", s.path)
	return st, nil
}

// write 先写临时文件再改名, 中途失败不会留下半个文件
func (s *Store) write(st *protocol.Settings) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("序列化设置失败: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("写入设置文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入设置文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("写入设置文件失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("写入设置文件失败: %w", err)
	}
	return nil
}

// ValidateExperiment 三个参数都必须为正数
func ValidateExperiment(exp protocol.ExperimentSettings) error {
	if exp.ValvesLoop <= 0 {
		return &protocol.ValidationError{Field: "valves_loop", Value: strconv.Itoa(exp.ValvesLoop)}
	}
	if exp.SensorsLoop <= 0 {
		return &protocol.ValidationError{Field: "sensors_loop", Value: strconv.Itoa(exp.SensorsLoop)}
	}
	if exp.SensorsDuration <= 0 {
		return &protocol.ValidationError{Field: "sensors_duration", Value: strconv.Itoa(exp.SensorsDuration)}
	}
	return nil
}

// NormalizeArduino 去掉通道名中的空格, 补齐到固定通道数
func NormalizeArduino(name string, a protocol.ArduinoSettings) (protocol.ArduinoSettings, error) {
	model := strings.TrimSpace(a.Model)
	if model == "" {
		return a, &protocol.ValidationError{Field: name + ".model", Value: a.Model}
	}

	sensors, err := normalizeChannels(name+".sensors", a.Sensors)
	if err != nil {
		return a, err
	}
	valves, err := normalizeChannels(name+".valves", a.Valves)
	if err != nil {
		return a, err
	}

	return protocol.ArduinoSettings{
		Model:       model,
		InvertOnOff: a.InvertOnOff,
		Sensors:     sensors,
		Valves:      valves,
	}, nil
}

func normalizeChannels(field string, in []string) ([]string, error) {
	if len(in) > protocol.ArduinoChannels {
		return nil, &protocol.ValidationError{Field: field, Value: strconv.Itoa(len(in))}
	}

	out := make([]string, protocol.ArduinoChannels)
	for i, v := range in {
		out[i] = strings.ReplaceAll(v, " ", "")
	}
	return out, nil
}
