/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/rotblauer/catfuse/params"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "catfuse",
	Short: "Fuse GNSS fixes and inertial sensors into smoothed tracks",
	Long: `catfuse runs a Kalman filter over location fixes and linear acceleration,
emitting one filtered track point per fix.

Raw platform callbacks (location, satellite status, sensor events) are read as JSON,
either replayed from a file or posted to the web daemon per device.

Configuration is layered: flags, then CATFUSE_* environment variables,
then catfuse.yaml (in the working directory or the data directory).
`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pFlags := rootCmd.PersistentFlags()
	pFlags.StringVar(&cfgFile, "config", "", "config file (default is ./catfuse.yaml or <datadir>/catfuse.yaml)")
	pFlags.String("datadir", params.DefaultDatadirRoot, "Root directory for device state and track logs")
	pFlags.Int("verbosity", int(slog.LevelInfo), "Log level: -4 debug, 0 info, 4 warn, 8 error")

	defaults := params.DefaultFusionConfig()
	pFlags.Float64("acceleration-deviation", defaults.AccelerationDeviation, "Accelerometer standard deviation, m/s^2")
	pFlags.Float64("gnss-min-distance", defaults.GNSSMinDistance, "Minimum distance between GNSS fixes, meters")
	pFlags.Duration("gnss-min-time", defaults.GNSSMinTime, "Minimum interval between GNSS fixes")
	pFlags.Duration("network-min-time", defaults.NetworkMinTime, "Network provider polling interval")
	pFlags.Float64("network-max-accuracy", defaults.NetworkMaxAccuracy, "Reject network fixes with worse normalized accuracy, meters")
	pFlags.Int("preferred-satellites", defaults.PreferredSatellites, "Satellites used in fix for fine reception")
	pFlags.Int("min-satellites", defaults.MinSatellites, "Satellites used in fix for low reception")
	pFlags.Int("sensor-hz", defaults.SensorFrequencyHz, "Inertial sampling rate requested from the host")
	pFlags.Int("sensor-decimation-hz", defaults.SensorDecimationHz, "Drop accelerations faster than this rate, 0 keeps all")
	pFlags.Bool("filter-mock", defaults.FilterMockGNSS, "Reject mock fixes")
	pFlags.Bool("filter-implausible", defaults.FilterImplausible, "Reject supersonic or wild altitude fixes")
	pFlags.Float64("velocity-factor", defaults.VelocityFactor, "Scale of GNSS velocity measurement noise")
	pFlags.Float64("position-factor", defaults.PositionFactor, "Scale of GNSS position measurement noise")
	pFlags.Bool("use-gps-speed", defaults.UseGPSSpeed, "Measure GNSS velocity as well as position")
	pFlags.String("estimator", defaults.Estimator, "Estimator: accel or geo")
	pFlags.Int("queue-capacity", defaults.QueueCapacity, "Sample queue capacity, 0 for unbounded")
	pFlags.Int("dedupe-size", defaults.DedupeSize, "Recent fixes remembered for deduplication")
	pFlags.Int("cell-level", defaults.CellLevel, "S2 cell level of the cell filter, 0 disables it")
	pFlags.Int("cell-min-points", defaults.CellMinPoints, "Points a cell needs to count as a stop")

	mustBindFlags(pFlags)
}

// mustBindFlags makes every flag in fs readable through viper under its own name.
func mustBindFlags(fs *pflag.FlagSet) {
	if err := viper.BindPFlags(fs); err != nil {
		panic(err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("CATFUSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(dataDir())
		viper.SetConfigName("catfuse")
		viper.SetConfigType("yaml")
	}
	if err := viper.ReadInConfig(); err == nil {
		slog.Info("Using config file", "file", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Failed to read config:", err)
		os.Exit(1)
	}
}

// dataDir is the configured data directory with ~ expanded.
func dataDir() string {
	d, err := homedir.Expand(viper.GetString("datadir"))
	if err != nil {
		slog.Warn("Failed to expand datadir", "datadir", viper.GetString("datadir"), "error", err)
		return viper.GetString("datadir")
	}
	return filepath.Clean(d)
}

func setDefaultSlog(cmd *cobra.Command, args []string) {
	level := slog.Level(viper.GetInt("verbosity"))
	slog.SetLogLoggerLevel(level)
	slog.Debug("Command", "name", cmd.Name(), "args", args, "level", level)
}

// fusionConfig assembles the session config from flags, env and file.
func fusionConfig() *params.FusionConfig {
	return &params.FusionConfig{
		AccelerationDeviation: viper.GetFloat64("acceleration-deviation"),
		GNSSMinDistance:       viper.GetFloat64("gnss-min-distance"),
		GNSSMinTime:           viper.GetDuration("gnss-min-time"),
		NetworkMinTime:        viper.GetDuration("network-min-time"),
		NetworkMaxAccuracy:    viper.GetFloat64("network-max-accuracy"),
		PreferredSatellites:   viper.GetInt("preferred-satellites"),
		MinSatellites:         viper.GetInt("min-satellites"),
		SensorFrequencyHz:     viper.GetInt("sensor-hz"),
		SensorDecimationHz:    viper.GetInt("sensor-decimation-hz"),
		FilterMockGNSS:        viper.GetBool("filter-mock"),
		FilterImplausible:     viper.GetBool("filter-implausible"),
		VelocityFactor:        viper.GetFloat64("velocity-factor"),
		PositionFactor:        viper.GetFloat64("position-factor"),
		UseGPSSpeed:           viper.GetBool("use-gps-speed"),
		Estimator:             viper.GetString("estimator"),
		QueueCapacity:         viper.GetInt("queue-capacity"),
		DedupeSize:            viper.GetInt("dedupe-size"),
		CellLevel:             viper.GetInt("cell-level"),
		CellMinPoints:         viper.GetInt("cell-min-points"),
	}
}
