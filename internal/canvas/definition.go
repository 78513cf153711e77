package canvas

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Definition is a declarative canvas layout. Pods, connections and triggers
// reference each other by name; ids are assigned by Build.
type Definition struct {
	Canvas      string                 `yaml:"canvas" toml:"canvas"`
	Pods        []PodDefinition        `yaml:"pods" toml:"pods"`
	Connections []ConnectionDefinition `yaml:"connections" toml:"connections"`
	Triggers    []TriggerDefinition    `yaml:"triggers" toml:"triggers"`
}

type PodDefinition struct {
	Name      string     `yaml:"name" toml:"name"`
	AutoClear bool       `yaml:"autoClear" toml:"autoClear"`
	Schedule  *Frequency `yaml:"schedule,omitempty" toml:"schedule,omitempty"`
}

type ConnectionDefinition struct {
	From string          `yaml:"from" toml:"from"`
	To   string          `yaml:"to" toml:"to"`
	Mode PropagationMode `yaml:"mode" toml:"mode"`
}

type TriggerDefinition struct {
	Name      string    `yaml:"name" toml:"name"`
	Frequency Frequency `yaml:"frequency" toml:"frequency"`
	Message   string    `yaml:"message,omitempty" toml:"message,omitempty"`
	Disabled  bool      `yaml:"disabled,omitempty" toml:"disabled,omitempty"`
	Targets   []string  `yaml:"targets" toml:"targets"`
	Mode      string    `yaml:"mode,omitempty" toml:"mode,omitempty"`
}

// ParseDefinitionYAML decodes a canvas definition.
func ParseDefinitionYAML(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("canvas: definition payload is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("canvas: decode definition: %w", err)
	}
	return def, def.Validate()
}

// ParseDefinitionTOML decodes a canvas definition written in TOML.
func ParseDefinitionTOML(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("canvas: definition payload is empty")
	}
	var def Definition
	if err := toml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("canvas: decode definition: %w", err)
	}
	return def, def.Validate()
}

// LoadDefinitionFile reads and decodes a canvas definition file. Files ending
// in .toml are TOML; anything else is YAML.
func LoadDefinitionFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("canvas: read %s: %w", path, err)
	}
	parse := ParseDefinitionYAML
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parse = ParseDefinitionTOML
	}
	def, err := parse(content)
	if err != nil {
		return Definition{}, fmt.Errorf("canvas: %s: %w", path, err)
	}
	return def, nil
}

// Validate checks names are unique and every reference resolves.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Canvas) == "" {
		return fmt.Errorf("canvas name is required")
	}
	pods := make(map[string]struct{}, len(d.Pods))
	for i, p := range d.Pods {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("pods[%d]: name is required", i)
		}
		if _, dup := pods[p.Name]; dup {
			return fmt.Errorf("pods[%d]: duplicate pod name %q", i, p.Name)
		}
		pods[p.Name] = struct{}{}
		if p.Schedule != nil {
			if err := p.Schedule.Validate(); err != nil {
				return fmt.Errorf("pod %s: %w", p.Name, err)
			}
		}
	}
	for i, c := range d.Connections {
		if _, ok := pods[c.From]; !ok {
			return fmt.Errorf("connections[%d]: unknown source pod %q", i, c.From)
		}
		if _, ok := pods[c.To]; !ok {
			return fmt.Errorf("connections[%d]: unknown target pod %q", i, c.To)
		}
		if c.Mode != "" && !c.Mode.Valid() {
			return fmt.Errorf("connections[%d]: unknown mode %q", i, c.Mode)
		}
	}
	triggers := make(map[string]struct{}, len(d.Triggers))
	for i, t := range d.Triggers {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("triggers[%d]: name is required", i)
		}
		if _, dup := triggers[t.Name]; dup {
			return fmt.Errorf("triggers[%d]: duplicate trigger name %q", i, t.Name)
		}
		triggers[t.Name] = struct{}{}
		if err := t.Frequency.Validate(); err != nil {
			return fmt.Errorf("trigger %s: %w", t.Name, err)
		}
		if t.Mode != "" && !PropagationMode(t.Mode).Valid() {
			return fmt.Errorf("trigger %s: unknown mode %q", t.Name, t.Mode)
		}
		for _, target := range t.Targets {
			if _, ok := pods[target]; !ok {
				return fmt.Errorf("trigger %s: unknown target pod %q", t.Name, target)
			}
		}
	}
	return nil
}

// Build assigns ids and returns the canvas as a Snapshot.
func (d Definition) Build() (Snapshot, error) {
	if err := d.Validate(); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	ids := make(map[string]string, len(d.Pods))
	for _, pd := range d.Pods {
		p := Pod{
			ID:        uuid.NewString(),
			CanvasID:  d.Canvas,
			Name:      pd.Name,
			Status:    PodIdle,
			AutoClear: pd.AutoClear,
		}
		if pd.Schedule != nil {
			p.Schedule = &Schedule{Frequency: *pd.Schedule, Enabled: true}
		}
		ids[pd.Name] = p.ID
		snap.Pods = append(snap.Pods, p)
	}
	for _, cd := range d.Connections {
		mode := cd.Mode
		if mode == "" {
			mode = ModeAuto
		}
		snap.Connections = append(snap.Connections, Connection{
			ID:         uuid.NewString(),
			CanvasID:   d.Canvas,
			SourceID:   ids[cd.From],
			SourceKind: SourcePod,
			TargetID:   ids[cd.To],
			Mode:       mode,
			Status:     ConnIdle,
		})
	}
	for _, td := range d.Triggers {
		t := Trigger{
			ID:        uuid.NewString(),
			CanvasID:  d.Canvas,
			Name:      td.Name,
			Frequency: td.Frequency,
			Enabled:   !td.Disabled,
			Message:   td.Message,
		}
		snap.Triggers = append(snap.Triggers, t)
		mode := PropagationMode(td.Mode)
		if mode == "" {
			mode = ModeAuto
		}
		for _, target := range td.Targets {
			snap.Connections = append(snap.Connections, Connection{
				ID:         uuid.NewString(),
				CanvasID:   d.Canvas,
				SourceID:   t.ID,
				SourceKind: SourceTrigger,
				TargetID:   ids[target],
				Mode:       mode,
				Status:     ConnIdle,
			})
		}
	}
	return snap, nil
}
