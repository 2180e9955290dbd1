package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"lcr-webgui/internal/settings"
	"lcr-webgui/pkg/protocol"
)

var (
	flagValvesLoop      int
	flagSensorsLoop     int
	flagSensorsDuration int
)

// arduinoFlags 一块 Arduino 的命令行参数
type arduinoFlags struct {
	model   string
	invert  bool
	sensors []string
	valves  []string
}

var flagArduino1, flagArduino2 arduinoFlags

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the experiment and Arduino settings stored on the server",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := settings.NewClient(cfg.Panel.FormURL, nil).Get(cmd.Context())
		if err != nil {
			return err
		}
		printSettings(cmd.OutOrStdout(), st)
		return nil
	},
}

var settingsExperimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Change the experiment loop settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := settings.NewClient(cfg.Panel.FormURL, nil)
		st, err := client.Get(cmd.Context())
		if err != nil {
			return err
		}

		exp := st.Experiment
		flags := cmd.Flags()
		if flags.Changed("valves-loop") {
			exp.ValvesLoop = flagValvesLoop
		}
		if flags.Changed("sensors-loop") {
			exp.SensorsLoop = flagSensorsLoop
		}
		if flags.Changed("duration") {
			exp.SensorsDuration = flagSensorsDuration
		}

		st, err = client.SaveExperiment(cmd.Context(), exp)
		if err != nil {
			return err
		}
		printSettings(cmd.OutOrStdout(), st)
		return nil
	},
}

var settingsArduinoCmd = &cobra.Command{
	Use:   "arduino",
	Short: "Change the Arduino board models and channel maps",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := settings.NewClient(cfg.Panel.FormURL, nil)
		st, err := client.Get(cmd.Context())
		if err != nil {
			return err
		}

		a1 := mergeArduino(cmd, "a1", st.Arduino1, flagArduino1)
		a2 := mergeArduino(cmd, "a2", st.Arduino2, flagArduino2)

		st, err = client.SaveArduinos(cmd.Context(), a1, a2)
		if err != nil {
			return err
		}
		printSettings(cmd.OutOrStdout(), st)
		return nil
	},
}

// mergeArduino 只覆盖命令行上显式给出的参数
func mergeArduino(cmd *cobra.Command, prefix string, cur protocol.ArduinoSettings, f arduinoFlags) protocol.ArduinoSettings {
	flags := cmd.Flags()
	if flags.Changed(prefix + "-model") {
		cur.Model = f.model
	}
	if flags.Changed(prefix + "-invert") {
		cur.InvertOnOff = f.invert
	}
	if flags.Changed(prefix + "-sensors") {
		cur.Sensors = f.sensors
	}
	if flags.Changed(prefix + "-valves") {
		cur.Valves = f.valves
	}
	return cur
}

func printSettings(w io.Writer, st *protocol.Settings) {
	fmt.Fprintf(w, "valves loop:      %d\n", st.Experiment.ValvesLoop)
	fmt.Fprintf(w, "sensors loop:     %d\n", st.Experiment.SensorsLoop)
	fmt.Fprintf(w, "sensors duration: %d\n", st.Experiment.SensorsDuration)
	for i, a := range []protocol.ArduinoSettings{st.Arduino1, st.Arduino2} {
		fmt.Fprintf(w, "arduino %d: model=%s invert=%t\n", i+1, a.Model, a.InvertOnOff)
		fmt.Fprintf(w, "  sensors: %s\n", strings.Join(a.Sensors, ","))
		fmt.Fprintf(w, "  valves:  %s\n", strings.Join(a.Valves, ","))
	}
}

func init() {
	settingsExperimentCmd.Flags().IntVar(&flagValvesLoop, "valves-loop", 0, "阀门循环次数")
	settingsExperimentCmd.Flags().IntVar(&flagSensorsLoop, "sensors-loop", 0, "传感器循环次数")
	settingsExperimentCmd.Flags().IntVar(&flagSensorsDuration, "duration", 0, "每个传感器的测量时长（秒）")

	for _, b := range []struct {
		prefix string
		f      *arduinoFlags
	}{{"a1", &flagArduino1}, {"a2", &flagArduino2}} {
		fs := settingsArduinoCmd.Flags()
		fs.StringVar(&b.f.model, b.prefix+"-model", "", "板型, 例如 MEGA")
		fs.BoolVar(&b.f.invert, b.prefix+"-invert", false, "反转开关电平")
		fs.StringSliceVar(&b.f.sensors, b.prefix+"-sensors", nil, "传感器引脚, 逗号分隔")
		fs.StringSliceVar(&b.f.valves, b.prefix+"-valves", nil, "阀门引脚, 逗号分隔")
	}

	settingsCmd.AddCommand(settingsShowCmd, settingsExperimentCmd, settingsArduinoCmd)
}
