// Package export builds a point-in-time description of every entity in Home
// Assistant, grouped by domain and annotated with its area.
package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"homebase42/internal/clock"
	"homebase42/internal/ha"
)

// EventExportComplete is fired on the HA bus after every build
const EventExportComplete = "homebase42_state_export_complete"

// NoArea labels entities without an entity or device area
const NoArea = "None"

// NoFloor groups areas that are not assigned to a floor
const NoFloor = "no_floor"

// Attributes already flattened into Entity or too noisy to export
var skippedAttributes = map[string]bool{
	"entity_picture":      true,
	"friendly_name":       true,
	"icon":                true,
	"device_class":        true,
	"unit_of_measurement": true,
	"supported_features":  true,
	"attribution":         true,
}

// Options selects the optional parts of an export
type Options struct {
	IncludeAttributes bool
	IncludeContext    bool
}

// DefaultOptions includes everything
func DefaultOptions() Options {
	return Options{IncludeAttributes: true, IncludeContext: true}
}

// Entity is one exported entity
type Entity struct {
	EntityID          string                 `json:"entity_id"`
	State             string                 `json:"state"`
	Domain            string                 `json:"domain"`
	FriendlyName      string                 `json:"friendly_name"`
	DeviceClass       string                 `json:"device_class"`
	Unit              string                 `json:"unit"`
	SupportedFeatures int                    `json:"supported_features"`
	Area              string                 `json:"area"`
	*RegistryContext
	LastChanged       string                 `json:"last_changed,omitempty"`
	LastUpdated       string                 `json:"last_updated,omitempty"`
	Attributes        map[string]interface{} `json:"attributes,omitempty"`
}

// RegistryContext holds the registry fields of an exported entity. It is nil
// when the entity has no registry entry, which leaves all of its keys out;
// otherwise every key is written, null values included.
type RegistryContext struct {
	EntityCategory *string `json:"entity_category"`
	Disabled       bool    `json:"disabled"`
	Hidden         bool    `json:"hidden"`
	Platform       string  `json:"platform"`
	OriginalName   *string `json:"original_name"`
}

// Summary counts entities per domain and per area
type Summary struct {
	ByDomain map[string]int `json:"by_domain"`
	ByArea   map[string]int `json:"by_area"`
}

// Snapshot is the full export document
type Snapshot struct {
	ExportTimestamp      string              `json:"export_timestamp"`
	HomeAssistantVersion string              `json:"home_assistant_version"`
	TotalEntities        int                 `json:"total_entities"`
	Summary              Summary             `json:"summary"`
	FloorsAndAreas       map[string][]string `json:"floors_and_areas"`
	StatesByDomain       map[string][]Entity `json:"states_by_domain"`
}

// Source is the part of the HA client an export reads
type Source interface {
	GetAllStates() ([]*ha.State, error)
	GetEntityRegistry() ([]*ha.EntityRegistryEntry, error)
	GetAreaRegistry() ([]*ha.AreaRegistryEntry, error)
	GetDeviceRegistry() ([]*ha.DeviceRegistryEntry, error)
	GetConfig() (*ha.Config, error)
	FireEvent(eventType string, data map[string]interface{}) error
}

// Builder produces export snapshots
type Builder struct {
	source   Source
	clock    clock.Clock
	logger   *zap.Logger
	readOnly bool
}

// NewBuilder creates a builder. In read-only mode the completion event is
// not fired.
func NewBuilder(source Source, clk clock.Clock, logger *zap.Logger, readOnly bool) *Builder {
	return &Builder{
		source:   source,
		clock:    clk,
		logger:   logger.Named("export"),
		readOnly: readOnly,
	}
}

type inputs struct {
	states   []*ha.State
	entities []*ha.EntityRegistryEntry
	areas    []*ha.AreaRegistryEntry
	devices  []*ha.DeviceRegistryEntry
	version  string
}

// fetch reads states and the three registries concurrently. The HA version
// is best effort.
func (b *Builder) fetch(ctx context.Context) (*inputs, error) {
	in := &inputs{version: "unknown"}
	var g errgroup.Group

	g.Go(func() error {
		states, err := b.source.GetAllStates()
		if err != nil {
			return fmt.Errorf("failed to get states: %w", err)
		}
		in.states = states
		return nil
	})
	g.Go(func() error {
		entities, err := b.source.GetEntityRegistry()
		if err != nil {
			return fmt.Errorf("failed to get entity registry: %w", err)
		}
		in.entities = entities
		return nil
	})
	g.Go(func() error {
		areas, err := b.source.GetAreaRegistry()
		if err != nil {
			return fmt.Errorf("failed to get area registry: %w", err)
		}
		in.areas = areas
		return nil
	})
	g.Go(func() error {
		devices, err := b.source.GetDeviceRegistry()
		if err != nil {
			return fmt.Errorf("failed to get device registry: %w", err)
		}
		in.devices = devices
		return nil
	})
	g.Go(func() error {
		cfg, err := b.source.GetConfig()
		if err != nil {
			b.logger.Warn("Failed to read HA version", zap.Error(err))
			return nil
		}
		if cfg.Version != "" {
			in.version = cfg.Version
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return in, nil
}

// Build collects everything and returns the snapshot, then fires
// EventExportComplete
func (b *Builder) Build(ctx context.Context, opts Options) (*Snapshot, error) {
	in, err := b.fetch(ctx)
	if err != nil {
		return nil, err
	}

	snap := assemble(in, opts, b.clock.Now())

	b.logger.Info("State export built",
		zap.Int("entities", snap.TotalEntities),
		zap.Int("domains", len(snap.StatesByDomain)))

	if b.readOnly {
		b.logger.Debug("READ-ONLY: not firing export event")
		return snap, nil
	}

	if err := b.source.FireEvent(EventExportComplete, map[string]interface{}{
		"entity_count": snap.TotalEntities,
		"timestamp":    snap.ExportTimestamp,
	}); err != nil {
		b.logger.Warn("Failed to fire export event", zap.Error(err))
	}
	return snap, nil
}

func assemble(in *inputs, opts Options, now time.Time) *Snapshot {
	areaNames := make(map[string]string, len(in.areas))
	floors := make(map[string][]string)
	for _, area := range in.areas {
		areaNames[area.AreaID] = area.Name
		floor := NoFloor
		if area.FloorID != nil && *area.FloorID != "" {
			floor = *area.FloorID
		}
		floors[floor] = append(floors[floor], area.Name)
	}

	deviceAreas := make(map[string]string, len(in.devices))
	for _, device := range in.devices {
		if device.AreaID != nil {
			deviceAreas[device.ID] = *device.AreaID
		}
	}

	registry := make(map[string]*ha.EntityRegistryEntry, len(in.entities))
	for _, entry := range in.entities {
		registry[entry.EntityID] = entry
	}

	snap := &Snapshot{
		ExportTimestamp:      now.Format(time.RFC3339),
		HomeAssistantVersion: in.version,
		Summary: Summary{
			ByDomain: make(map[string]int),
			ByArea:   make(map[string]int),
		},
		FloorsAndAreas: floors,
		StatesByDomain: make(map[string][]Entity),
	}

	for _, state := range in.states {
		entry := registry[state.EntityID]
		entity := buildEntity(state, entry, opts)
		entity.Area = resolveArea(entry, areaNames, deviceAreas)

		snap.StatesByDomain[entity.Domain] = append(snap.StatesByDomain[entity.Domain], entity)
		snap.Summary.ByDomain[entity.Domain]++
		snap.Summary.ByArea[entity.Area]++
		snap.TotalEntities++
	}

	for _, entities := range snap.StatesByDomain {
		sort.Slice(entities, func(i, j int) bool {
			return entities[i].EntityID < entities[j].EntityID
		})
	}
	return snap
}

func buildEntity(state *ha.State, entry *ha.EntityRegistryEntry, opts Options) Entity {
	entity := Entity{
		EntityID:          state.EntityID,
		State:             state.State,
		Domain:            state.Domain(),
		FriendlyName:      stringAttr(state.Attributes, "friendly_name"),
		DeviceClass:       stringAttr(state.Attributes, "device_class"),
		Unit:              stringAttr(state.Attributes, "unit_of_measurement"),
		SupportedFeatures: intAttr(state.Attributes, "supported_features"),
	}

	if opts.IncludeContext {
		if entry != nil {
			entity.RegistryContext = &RegistryContext{
				EntityCategory: entry.EntityCategory,
				Disabled:       entry.IsDisabled(),
				Hidden:         entry.HiddenBy != nil,
				Platform:       entry.Platform,
				OriginalName:   entry.OriginalName,
			}
		}
		entity.LastChanged = formatTime(state.LastChanged)
		entity.LastUpdated = formatTime(state.LastUpdated)
	}

	if opts.IncludeAttributes {
		filtered := make(map[string]interface{})
		for k, v := range state.Attributes {
			if skippedAttributes[k] {
				continue
			}
			filtered[k] = v
		}
		if len(filtered) > 0 {
			entity.Attributes = filtered
		}
	}
	return entity
}

// resolveArea uses the entity's own area, then its device's area
func resolveArea(entry *ha.EntityRegistryEntry, areaNames, deviceAreas map[string]string) string {
	if entry == nil {
		return NoArea
	}
	if entry.AreaID != "" {
		if name, ok := areaNames[entry.AreaID]; ok {
			return name
		}
		return NoArea
	}
	if entry.DeviceID != "" {
		if areaID, ok := deviceAreas[entry.DeviceID]; ok {
			if name, ok := areaNames[areaID]; ok {
				return name
			}
		}
	}
	return NoArea
}

func stringAttr(attrs map[string]interface{}, key string) string {
	if s, ok := attrs[key].(string); ok {
		return s
	}
	return ""
}

func intAttr(attrs map[string]interface{}, key string) int {
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
