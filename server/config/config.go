package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/behave/pkg/nn"
	"github.com/cyclopcam/behave/server/behavior"
	"github.com/cyclopcam/behave/server/motion"
	"github.com/cyclopcam/behave/server/notifications"
	"github.com/cyclopcam/behave/server/segmenter"
	"github.com/cyclopcam/dbh"
)

const DefaultFilename = "behave.json"

// Classes maps detector class names onto roles
type Classes struct {
	Subject                []string `json:"subject"`                // eg ["Pig-laying", "Pig-standing"]
	Target                 []string `json:"target"`                 // eg ["Water-faucets"]
	Artifact               []string `json:"artifact"`               // eg ["feces"]
	Confirmation           []string `json:"confirmation"`           // Optional secondary detector classes that extend the grace period, eg ["Pig-drinking"]
	ConfirmationConfidence float32  `json:"confirmationConfidence"` // Minimum confidence of a confirmation detection
}

type Output struct {
	EventLog string        `json:"eventLog"` // Per-run CSV event log. If empty, no CSV is written.
	EventDB  *dbh.DBConfig `json:"eventDB"`  // Aggregate cross-run database. If nil, events are not aggregated.
}

type Config struct {
	MovementThreshold        float32                  `json:"movementThreshold"`        // Pixels
	StandingThreshold        float32                  `json:"standingThreshold"`        // Pixels
	IoUThreshold             float32                  `json:"iouThreshold"`             // Subject/target overlap
	AlignmentThreshold       float32                  `json:"alignmentThreshold"`       // Raw pixel dot product units
	ConfidenceThreshold      float32                  `json:"confidenceThreshold"`      // Minimum subject confidence
	BaseExtensionFrames      int64                    `json:"baseExtensionFrames"`      // Grace period, in native frames
	ExtensionIncrementFrames int64                    `json:"extensionIncrementFrames"` // Grace period growth per confirmation, in native frames
	FrameRate                float64                  `json:"frameRate"`                // Native frame rate of the source video
	SamplingRate             float64                  `json:"samplingRate"`             // Frames per second that we classify. Must divide FrameRate.
	MergeIoU                 float32                  `json:"mergeIoU"`                 // Merge same-class detections that overlap by more than this. Zero disables merging.
	Behavior                 string                   `json:"behavior"`                 // Label of the behavior, eg "Drinking"
	Classes                  Classes                  `json:"classes"`
	TargetResizePercent      float32                  `json:"targetResizePercent"` // Grow detected targets by this percentage
	FixedTargets             []behavior.FixedTarget   `json:"fixedTargets"`        // If not empty, these replace detected targets
	Output                   Output                   `json:"output"`
	MQTT                     notifications.MQTTConfig `json:"mqtt"`         // If MQTT.Host is empty, then notifications are disabled
	Topics                   map[string]string        `json:"topics"`       // Behavior label to MQTT topic
	DefaultTopic             string                   `json:"defaultTopic"` // Topic for behaviors that are not in Topics
	Listen                   string                   `json:"listen"`       // HTTP listen address for the status API, eg ":8090". If empty, there is no HTTP server.
}

// Default returns a configuration for detecting pigs drinking from water faucets
func Default() *Config {
	bs := behavior.DefaultSettings()
	ms := motion.DefaultSettings()
	ss := segmenter.DefaultSettings()
	ns := notifications.DefaultSettings()
	return &Config{
		MovementThreshold:        ms.MovementThreshold,
		StandingThreshold:        ms.StandingThreshold,
		IoUThreshold:             bs.IoUThreshold,
		AlignmentThreshold:       bs.AlignmentThreshold,
		ConfidenceThreshold:      bs.ConfidenceThreshold,
		BaseExtensionFrames:      ss.BaseExtensionFrames,
		ExtensionIncrementFrames: ss.ExtensionIncrementFrames,
		FrameRate:                ss.FrameRate,
		SamplingRate:             5,
		MergeIoU:                 0.9,
		Behavior:                 bs.Behavior,
		Classes: Classes{
			Subject:                []string{"Pig-laying", "Pig-standing"},
			Target:                 []string{"Water-faucets"},
			Artifact:               []string{"feces"},
			ConfirmationConfidence: 0.5,
		},
		Output: Output{
			EventLog: "events.csv",
		},
		DefaultTopic: ns.DefaultTopic,
		Topics: map[string]string{
			bs.Behavior: "pigs/drinking",
		},
	}
}

// Load reads a JSON config file. Fields that are omitted from the file retain their default values.
func Load(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultFilename
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON
func (c *Config) Save(filename string) error {
	raw, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return err
		}
	}
	return os.WriteFile(filename, raw, 0660)
}

func (c *Config) Validate() error {
	if c.MovementThreshold < 0 || c.StandingThreshold < 0 {
		return errors.New("movementThreshold and standingThreshold may not be negative")
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("iouThreshold must be between 0 and 1 (got %v)", c.IoUThreshold)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidenceThreshold must be between 0 and 1 (got %v)", c.ConfidenceThreshold)
	}
	if c.BaseExtensionFrames < 0 || c.ExtensionIncrementFrames < 0 {
		return errors.New("baseExtensionFrames and extensionIncrementFrames may not be negative")
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("frameRate must be positive (got %v)", c.FrameRate)
	}
	if c.SamplingRate <= 0 || c.SamplingRate > c.FrameRate {
		return fmt.Errorf("samplingRate must be between 0 and frameRate %v (got %v)", c.FrameRate, c.SamplingRate)
	}
	if c.Behavior == "" {
		return errors.New("behavior label may not be empty")
	}
	if len(c.Classes.Subject) == 0 {
		return errors.New("At least one subject class is required")
	}
	if len(c.Classes.Target) == 0 && len(c.FixedTargets) == 0 {
		return errors.New("At least one target class, or a fixed target, is required")
	}
	for i, ft := range c.FixedTargets {
		if !ft.Box.Valid() {
			return fmt.Errorf("Fixed target %v has an invalid box %v", i, ft.Box)
		}
	}
	if c.Output.EventDB != nil && c.Output.EventDB.Driver == "" {
		return errors.New("output.eventDB.Driver is required")
	}
	return nil
}

// SampleInterval is the number of native frames between classified frames
func (c *Config) SampleInterval() int64 {
	n := int64(c.FrameRate / c.SamplingRate)
	if n < 1 {
		n = 1
	}
	return n
}

func (c *Config) MotionSettings() motion.Settings {
	return motion.Settings{
		MovementThreshold: c.MovementThreshold,
		StandingThreshold: c.StandingThreshold,
	}
}

func (c *Config) BehaviorSettings() behavior.Settings {
	return behavior.Settings{
		IoUThreshold:        c.IoUThreshold,
		AlignmentThreshold:  c.AlignmentThreshold,
		ConfidenceThreshold: c.ConfidenceThreshold,
		Behavior:            c.Behavior,
		TargetResizePercent: c.TargetResizePercent,
		FixedTargets:        c.FixedTargets,
	}
}

func (c *Config) SegmenterSettings() segmenter.Settings {
	return segmenter.Settings{
		BaseExtensionFrames:      c.BaseExtensionFrames,
		ExtensionIncrementFrames: c.ExtensionIncrementFrames,
		FrameRate:                c.FrameRate,
	}
}

func (c *Config) NotifierSettings() notifications.Settings {
	s := notifications.DefaultSettings()
	s.Topics = c.Topics
	if c.DefaultTopic != "" {
		s.DefaultTopic = c.DefaultTopic
	}
	return s
}

func (c *Config) Roles() behavior.Roles {
	return behavior.Roles{
		Subject:  nn.NewClassSet(c.Classes.Subject...),
		Target:   nn.NewClassSet(c.Classes.Target...),
		Artifact: nn.NewClassSet(c.Classes.Artifact...),
	}
}

// Confirmer returns the configured confirmation strategy, or nil if there is none.
func (c *Config) Confirmer() *behavior.ClassConfirmer {
	if len(c.Classes.Confirmation) == 0 {
		return nil
	}
	return behavior.NewClassConfirmer(nn.NewClassSet(c.Classes.Confirmation...), c.Classes.ConfirmationConfidence)
}
