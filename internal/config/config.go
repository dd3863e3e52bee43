package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/viper"
)

// DefaultFileTemplate keeps the single fixed file name of the firmware build.
// Available placeholders: {{.Year}}, {{.Month}}, {{.Day}}, {{.Hour}}, {{.Minute}}, {{.Second}}, {{.Name}}
const DefaultFileTemplate = "rec"

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Encoder  EncoderConfig  `mapstructure:"encoder" yaml:"encoder"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Trigger  TriggerConfig  `mapstructure:"trigger" yaml:"trigger"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`

	// Internal field to track inheritance information for config show
	Inheritance InheritanceInfo `mapstructure:"-" yaml:"-"`
}

// InheritanceInfo maps a dotted key ("audio.sample_rate") to "default", "inherited" or "profile-specific".
type InheritanceInfo map[string]string

type RecorderConfig struct {
	MaxDuration  time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	CommandQueue int           `mapstructure:"command_queue" yaml:"command_queue"`
}

type AudioConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"` // "pulse", "synthetic", "auto"
	SampleRate    int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	ChannelLayout string `mapstructure:"channel_layout" yaml:"channel_layout"` // "mono", "left", "right", "stereo"
	BitDepth      int    `mapstructure:"bit_depth" yaml:"bit_depth"`
	Device        string `mapstructure:"device" yaml:"device"`
	FrameMs       int    `mapstructure:"frame_ms" yaml:"frame_ms"`
	ToneHz        int    `mapstructure:"tone_hz" yaml:"tone_hz"` // synthetic backend only
}

type EncoderConfig struct {
	Profile string `mapstructure:"profile" yaml:"profile"` // "wav", "pcm"
}

type PipelineConfig struct {
	BufferFrames int `mapstructure:"buffer_frames" yaml:"buffer_frames"`
	EventQueue   int `mapstructure:"event_queue" yaml:"event_queue"`
}

type OutputConfig struct {
	Directory    string `mapstructure:"directory" yaml:"directory"`
	FileTemplate string `mapstructure:"file_template" yaml:"file_template"`
	MinFreeMB    int    `mapstructure:"min_free_mb" yaml:"min_free_mb"`
}

type TriggerConfig struct {
	QueueSize int           `mapstructure:"queue_size" yaml:"queue_size"`
	Debounce  time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Signal    string        `mapstructure:"signal" yaml:"signal"` // "SIGUSR1", "SIGUSR2", "none"
	Stdin     bool          `mapstructure:"stdin" yaml:"stdin"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    string `mapstructure:"port" yaml:"port"`
}

// Default returns the configuration of the reference board: 48 kHz left channel,
// 16 bit WAV, 10 seconds per recording into /sdcard/rec.wav.
func Default() *Config {
	return &Config{
		Recorder: RecorderConfig{
			MaxDuration:  10 * time.Second,
			TickInterval: time.Second,
			DrainTimeout: 5 * time.Second,
			CommandQueue: 8,
		},
		Audio: AudioConfig{
			Backend:       "auto",
			SampleRate:    48000,
			ChannelLayout: "left",
			BitDepth:      16,
			FrameMs:       20,
			ToneHz:        440,
		},
		Encoder: EncoderConfig{Profile: "wav"},
		Pipeline: PipelineConfig{
			BufferFrames: 16,
			EventQueue:   32,
		},
		Output: OutputConfig{
			Directory:    "/sdcard",
			FileTemplate: DefaultFileTemplate,
			MinFreeMB:    1,
		},
		Trigger: TriggerConfig{
			QueueSize: 10,
			Debounce:  200 * time.Millisecond,
			Signal:    "SIGUSR1",
		},
		Server:      ServerConfig{Port: "8080"},
		Inheritance: InheritanceInfo{},
	}
}

// LoadWithProfile reads configFile and resolves the requested profile over the
// "default" profile and the built-in defaults. A missing file yields the defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found: %s does not exist", profile, configFile)
		}
		cfg := Default()
		return cfg, Validate(cfg)
	}

	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return rootConfig.Resolve(profile)
}

// ReadRootConfig parses the profile file without resolving a profile.
func ReadRootConfig(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("SDRECORD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required")
	}

	return &rootConfig, nil
}

// Resolve selects a profile (explicit name, then active_config, then "default")
// and merges it over the default profile and the built-in defaults.
func (rc *RootConfig) Resolve(profile string) (*Config, error) {
	configName := profile
	if configName == "" {
		configName = rc.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rc.Configs[configName]
	if !exists || selectedProfile == nil {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	base := Default()
	if defaultProfile, exists := rc.Configs["default"]; exists && defaultProfile != nil && configName != "default" {
		base = mergeConfigs(base, defaultProfile)
		// Everything the default profile sets is inherited from the point of view of the selected profile
		for key, status := range base.Inheritance {
			if status == "profile-specific" {
				base.Inheritance[key] = "inherited"
			}
		}
	}

	resolved := mergeConfigs(base, selectedProfile)
	resolved.Output.Directory = expandPath(resolved.Output.Directory)

	if err := Validate(resolved); err != nil {
		return nil, fmt.Errorf("config validation failed for profile '%s': %w", configName, err)
	}

	return resolved, nil
}

// Profiles returns the profile names in the file, sorted.
func (rc *RootConfig) Profiles() []string {
	names := make([]string, 0, len(rc.Configs))
	for name := range rc.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs overlays every non-zero field of profile on top of base and
// records where each value came from.
func mergeConfigs(base, profile *Config) *Config {
	result := *base
	result.Inheritance = InheritanceInfo{}
	for key, status := range base.Inheritance {
		result.Inheritance[key] = status
	}

	if profile == nil {
		return &result
	}

	set := func(key string) { result.Inheritance[key] = "profile-specific" }

	if profile.Recorder.MaxDuration != 0 {
		result.Recorder.MaxDuration = profile.Recorder.MaxDuration
		set("recorder.max_duration")
	}
	if profile.Recorder.TickInterval != 0 {
		result.Recorder.TickInterval = profile.Recorder.TickInterval
		set("recorder.tick_interval")
	}
	if profile.Recorder.DrainTimeout != 0 {
		result.Recorder.DrainTimeout = profile.Recorder.DrainTimeout
		set("recorder.drain_timeout")
	}
	if profile.Recorder.CommandQueue != 0 {
		result.Recorder.CommandQueue = profile.Recorder.CommandQueue
		set("recorder.command_queue")
	}

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
		set("audio.backend")
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		set("audio.sample_rate")
	}
	if profile.Audio.ChannelLayout != "" {
		result.Audio.ChannelLayout = profile.Audio.ChannelLayout
		set("audio.channel_layout")
	}
	if profile.Audio.BitDepth != 0 {
		result.Audio.BitDepth = profile.Audio.BitDepth
		set("audio.bit_depth")
	}
	if profile.Audio.Device != "" {
		result.Audio.Device = profile.Audio.Device
		set("audio.device")
	}
	if profile.Audio.FrameMs != 0 {
		result.Audio.FrameMs = profile.Audio.FrameMs
		set("audio.frame_ms")
	}
	if profile.Audio.ToneHz != 0 {
		result.Audio.ToneHz = profile.Audio.ToneHz
		set("audio.tone_hz")
	}

	if profile.Encoder.Profile != "" {
		result.Encoder.Profile = profile.Encoder.Profile
		set("encoder.profile")
	}

	if profile.Pipeline.BufferFrames != 0 {
		result.Pipeline.BufferFrames = profile.Pipeline.BufferFrames
		set("pipeline.buffer_frames")
	}
	if profile.Pipeline.EventQueue != 0 {
		result.Pipeline.EventQueue = profile.Pipeline.EventQueue
		set("pipeline.event_queue")
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		set("output.directory")
	}
	if profile.Output.FileTemplate != "" {
		result.Output.FileTemplate = profile.Output.FileTemplate
		set("output.file_template")
	}
	if profile.Output.MinFreeMB != 0 {
		result.Output.MinFreeMB = profile.Output.MinFreeMB
		set("output.min_free_mb")
	}

	if profile.Trigger.QueueSize != 0 {
		result.Trigger.QueueSize = profile.Trigger.QueueSize
		set("trigger.queue_size")
	}
	if profile.Trigger.Debounce != 0 {
		result.Trigger.Debounce = profile.Trigger.Debounce
		set("trigger.debounce")
	}
	if profile.Trigger.Signal != "" {
		result.Trigger.Signal = profile.Trigger.Signal
		set("trigger.signal")
	}
	// Booleans cannot express "unset"; a profile that enables them wins
	if profile.Trigger.Stdin {
		result.Trigger.Stdin = true
		set("trigger.stdin")
	}

	if profile.Server.Enabled {
		result.Server.Enabled = true
		set("server.enabled")
	}
	if profile.Server.Port != "" {
		result.Server.Port = profile.Server.Port
		set("server.port")
	}

	return &result
}

// Source reports where a resolved value came from.
func (c *Config) Source(key string) string {
	if status, ok := c.Inheritance[key]; ok {
		return status
	}
	return "default"
}

// Validate checks value ranges of a resolved configuration.
func Validate(c *Config) error {
	if c.Recorder.MaxDuration <= 0 {
		return fmt.Errorf("recorder.max_duration must be > 0, got: %s", c.Recorder.MaxDuration)
	}
	if c.Recorder.TickInterval <= 0 {
		return fmt.Errorf("recorder.tick_interval must be > 0, got: %s", c.Recorder.TickInterval)
	}
	if c.Recorder.DrainTimeout <= 0 {
		return fmt.Errorf("recorder.drain_timeout must be > 0, got: %s", c.Recorder.DrainTimeout)
	}
	if c.Recorder.CommandQueue <= 0 {
		return fmt.Errorf("recorder.command_queue must be > 0, got: %d", c.Recorder.CommandQueue)
	}

	switch strings.ToLower(c.Audio.Backend) {
	case "auto", "pulse", "synthetic":
	default:
		return fmt.Errorf("audio.backend must be 'auto', 'pulse' or 'synthetic', got: %s", c.Audio.Backend)
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got: %d", c.Audio.SampleRate)
	}
	switch c.Audio.ChannelLayout {
	case "mono", "left", "right", "stereo":
	default:
		return fmt.Errorf("audio.channel_layout must be 'mono', 'left', 'right' or 'stereo', got: %s", c.Audio.ChannelLayout)
	}
	switch c.Audio.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("audio.bit_depth must be 8, 16, 24 or 32, got: %d", c.Audio.BitDepth)
	}
	if c.Audio.FrameMs <= 0 || c.Audio.FrameMs > 1000 {
		return fmt.Errorf("audio.frame_ms must be between 1 and 1000, got: %d", c.Audio.FrameMs)
	}

	if c.Encoder.Profile == "" {
		return fmt.Errorf("encoder.profile is required")
	}

	if c.Pipeline.BufferFrames <= 0 {
		return fmt.Errorf("pipeline.buffer_frames must be > 0, got: %d", c.Pipeline.BufferFrames)
	}
	if c.Pipeline.EventQueue <= 0 {
		return fmt.Errorf("pipeline.event_queue must be > 0, got: %d", c.Pipeline.EventQueue)
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	if c.Output.FileTemplate == "" {
		return fmt.Errorf("output.file_template is required")
	}
	if _, err := template.New("file").Parse(c.Output.FileTemplate); err != nil {
		return fmt.Errorf("output.file_template is invalid: %w", err)
	}
	if c.Output.MinFreeMB < 0 {
		return fmt.Errorf("output.min_free_mb must be >= 0, got: %d", c.Output.MinFreeMB)
	}

	if c.Trigger.QueueSize <= 0 {
		return fmt.Errorf("trigger.queue_size must be > 0, got: %d", c.Trigger.QueueSize)
	}
	if c.Trigger.Debounce < 0 {
		return fmt.Errorf("trigger.debounce must be >= 0, got: %s", c.Trigger.Debounce)
	}
	switch strings.ToUpper(c.Trigger.Signal) {
	case "", "NONE", "SIGUSR1", "SIGUSR2", "SIGHUP":
	default:
		return fmt.Errorf("trigger.signal must be SIGUSR1, SIGUSR2, SIGHUP or none, got: %s", c.Trigger.Signal)
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("server.port must be a TCP port number, got: %s", c.Server.Port)
	}

	return nil
}

// FileTemplateData holds the template variables available for file naming.
type FileTemplateData struct {
	Year   string
	Month  string
	Day    string
	Hour   string
	Minute string
	Second string
	Name   string
}

// OutputPath builds the absolute output file for a new session. A non-empty
// name replaces the template; ext is the encoder profile extension.
func (c *Config) OutputPath(name, ext string, now time.Time) (string, error) {
	base := CleanFileName(name)
	if base == "" {
		tmpl, err := template.New("file").Parse(c.Output.FileTemplate)
		if err != nil {
			return "", fmt.Errorf("invalid file template: %w", err)
		}

		data := FileTemplateData{
			Year:   now.Format("2006"),
			Month:  now.Format("01"),
			Day:    now.Format("02"),
			Hour:   now.Format("15"),
			Minute: now.Format("04"),
			Second: now.Format("05"),
			Name:   name,
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("executing file template: %w", err)
		}
		base = buf.String()
	}

	if base == "" || strings.ContainsAny(base, `/\`) {
		return "", fmt.Errorf("invalid output file name: %q", base)
	}

	if ext != "" {
		base += "." + ext
	}
	return filepath.Join(c.Output.Directory, base), nil
}

// CleanFileName sanitizes a filename
// Allows: letters, numbers, spaces, hyphens, underscores
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
