package graph

import "strings"

// RoutingHints is the parsed, structured form of an issue's tag list. Tag
// prefix parsing is centralized here so new gate types can be added without
// scattering string matching across the dispatcher and verifier.
type RoutingHints struct {
	Category      string            // from asset:<category>; empty if no asset tag
	GateOverrides map[string]string // gate name -> config id, from gate:config:<id> / gate:godot-config:<id>
	Flags         map[string]bool   // bare gate:<flag> tags, e.g. gate:godot, gate:asset-only
}

const (
	prefixAsset           = "asset:"
	prefixGateConfig      = "gate:config:"
	prefixGodotGateConfig = "gate:godot-config:"
	prefixGate            = "gate:"
)

// ParseRoutingHints parses an issue's tag list into a RoutingHints record.
func ParseRoutingHints(tags []string) RoutingHints {
	h := RoutingHints{
		GateOverrides: make(map[string]string),
		Flags:         make(map[string]bool),
	}
	for _, tag := range tags {
		switch {
		case strings.HasPrefix(tag, prefixGodotGateConfig):
			h.GateOverrides["fab-godot"] = strings.TrimPrefix(tag, prefixGodotGateConfig)
		case strings.HasPrefix(tag, prefixGateConfig):
			h.GateOverrides["fab-realism"] = strings.TrimPrefix(tag, prefixGateConfig)
		case strings.HasPrefix(tag, prefixAsset):
			if h.Category == "" {
				h.Category = strings.TrimPrefix(tag, prefixAsset)
			}
		case strings.HasPrefix(tag, prefixGate):
			h.Flags[strings.TrimPrefix(tag, prefixGate)] = true
		}
	}
	return h
}

// HasAsset reports whether any asset:<category> tag was present.
func (h RoutingHints) HasAsset() bool {
	return h.Category != ""
}
