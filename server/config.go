package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/annotate/pkg/annot"
	"github.com/cyclopcam/annotate/pkg/storage"
)

type Config struct {
	Listen          string              `json:"listen"`          // eg ":8090"
	FramesDir       string              `json:"framesDir"`       // Directory of images to annotate
	CategoryMap     string              `json:"categoryMap"`     // Name of the active category map
	Categories      []annot.CategoryMap `json:"categories"`      // Custom category maps
	CarryForward    bool                `json:"carryForward"`    // Seed unvisited frames with the previous frame's boxes
	HistorySize     int                 `json:"historySize"`     // Maximum undo depth
	DefaultLabel    string              `json:"defaultLabel"`    // Label given to newly drawn boxes. Empty means class 0 of the active category map.
	EventsPerSecond int                 `json:"eventsPerSecond"` // Rate limit of the event endpoint, per client IP
	MergeIoU        float32             `json:"mergeIoU"`        // Autofill: merge same-label detections that overlap this much. Zero disables.
	TrackingIoU     float32             `json:"trackingIoU"`     // Minimum overlap for tracking id propagation
	Export          storage.Config      `json:"export"`
	HTTPS           *HTTPSConfig        `json:"https"`
}

// HTTPSConfig enables automatic certificates via ACME
type HTTPSConfig struct {
	Domain  string `json:"domain"`
	Email   string `json:"email"`
	CertDir string `json:"certDir"` // Where certificates are cached
}

func DefaultConfig() Config {
	return Config{
		Listen:          ":8090",
		CategoryMap:     annot.YOLOTestSet.Name,
		HistorySize:     50,
		EventsPerSecond: 200,
		MergeIoU:        0.9,
		TrackingIoU:     0.3,
	}
}

// LoadConfig reads a JSON config file. Missing fields get their default values.
// If configFile is empty, the defaults are returned.
func LoadConfig(configFile string) (Config, error) {
	cfg := DefaultConfig()
	if configFile == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(configFile)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("Error parsing config file %v: %w", configFile, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills in fields that were explicitly zeroed
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.CategoryMap == "" {
		c.CategoryMap = def.CategoryMap
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.EventsPerSecond <= 0 {
		c.EventsPerSecond = def.EventsPerSecond
	}
	if c.TrackingIoU <= 0 {
		c.TrackingIoU = def.TrackingIoU
	}
}

func (c *Config) sessionOptions() annot.Options {
	return annot.Options{
		CarryForward: c.CarryForward,
		HistorySize:  c.HistorySize,
		Categories:   c.Categories,
		CategoryMap:  c.CategoryMap,
		DefaultLabel: c.DefaultLabel,
	}
}
