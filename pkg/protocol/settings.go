package protocol

// 表单页
const (
	FormPageExperiment = 1
	FormPageArduino    = 2
)

// 每块 Arduino 的传感器/阀门通道数
const ArduinoChannels = 8

// ExperimentSettings 实验循环参数
type ExperimentSettings struct {
	ValvesLoop      int `json:"valves_loop" yaml:"valves_loop"`
	SensorsLoop     int `json:"sensors_loop" yaml:"sensors_loop"`
	SensorsDuration int `json:"sensors_duration" yaml:"sensors_duration"` // 秒
}

// ArduinoSettings 一块 Arduino 的型号和通道分配
type ArduinoSettings struct {
	Model       string   `json:"model" yaml:"model"`
	InvertOnOff bool     `json:"invert_onoff" yaml:"invert_onoff"`
	Sensors     []string `json:"sensors" yaml:"sensors"`
	Valves      []string `json:"valves" yaml:"valves"`
}

// Settings 持久化的实验与 Arduino 设置
type Settings struct {
	Experiment ExperimentSettings `json:"experiment" yaml:"experiment"`
	Arduino1   ArduinoSettings    `json:"arduino1" yaml:"arduino1"`
	Arduino2   ArduinoSettings    `json:"arduino2" yaml:"arduino2"`
}

// FormRequest POST /form 请求体, page_id 决定使用哪些字段
type FormRequest struct {
	PageID     int                 `json:"page_id"`
	Experiment *ExperimentSettings `json:"experiment,omitempty"`
	Arduino1   *ArduinoSettings    `json:"arduino1,omitempty"`
	Arduino2   *ArduinoSettings    `json:"arduino2,omitempty"`
}

// FormResponse /form 响应, status 为 ok 或 error
type FormResponse struct {
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
}
