// SPDX-License-Identifier: GPL-3.0-or-later

// Package callsign applies per-tracker overrides — assigned callsign,
// CoT type override, team-member role/colour, enabled/disabled — to a
// raw location list. The mapper is a pure transformer: it never performs
// I/O and is safe to call repeatedly with the same input.
package callsign

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/emfoursolutions/trakbridge-core/internal/model"
)

// Mapper applies a [model.StreamConfig]'s callsign mappings to a batch
// of locations. Construct one per tick (or cache across ticks with the
// same config; [NewMapper] is cheap) with [NewMapper].
type Mapper struct {
	byIdentifier     map[string]model.CallsignMapping
	identifierField  string
	unmappedFallback model.FallbackPolicy
}

// NewMapper builds a [*Mapper] from cfg's callsign mappings, indexed by
// normalised identifier for O(1) lookup per location.
func NewMapper(cfg model.StreamConfig) *Mapper {
	m := &Mapper{
		byIdentifier:     make(map[string]model.CallsignMapping, len(cfg.CallsignMappings)),
		identifierField:  cfg.IdentifierField,
		unmappedFallback: cfg.UnmappedFallback,
	}
	for _, mapping := range cfg.CallsignMappings {
		m.byIdentifier[normalizeIdentifier(mapping.IdentifierValue)] = mapping
	}
	return m
}

// Apply returns a new slice of locations with mappings applied: disabled
// trackers are dropped, matched trackers get their assigned callsign,
// CoT type override, and team-member attributes, and unmapped trackers
// either pass through unchanged or are dropped per cfg.UnmappedFallback.
//
// When the identifier field is "uid" or an AdditionalData key, Apply is
// idempotent: a match never rewrites that field, so applying it twice
// to its own output is a no-op. When the identifier field is "name", a
// match with an AssignedCallsign rewrites Name, and a second pass looks
// up the assigned callsign instead; under the drop fallback a location
// whose callsign matches no identifier is then dropped.
func (m *Mapper) Apply(locs []model.Location) []model.Location {
	out := make([]model.Location, 0, len(locs))
	for _, loc := range locs {
		mapped, keep := m.applyOne(loc)
		if keep {
			out = append(out, mapped)
		}
	}
	return out
}

func (m *Mapper) applyOne(loc model.Location) (model.Location, bool) {
	key := normalizeIdentifier(m.identifierValue(loc))
	mapping, ok := m.byIdentifier[key]
	if !ok {
		return loc, m.unmappedFallback != model.FallbackDrop
	}
	if !mapping.Enabled {
		return loc, false
	}

	loc = cloneLocation(loc)

	if mapping.AssignedCallsign != "" {
		loc.Name = mapping.AssignedCallsign
	}

	switch mapping.CotTypeOverride {
	case "":
		// no override
	case model.CotTypeOverrideTeamMember:
		loc.AdditionalData[model.KeyTeamMemberEnabled] = true
		if mapping.TeamRole != "" {
			loc.AdditionalData[model.KeyTeamRole] = string(mapping.TeamRole)
		}
		if mapping.TeamColor != "" {
			loc.AdditionalData[model.KeyTeamColor] = string(mapping.TeamColor)
		}
	default:
		loc.AdditionalData[model.KeyCotType] = mapping.CotTypeOverride
	}

	return loc, true
}

// identifierValue reads the designated identifier field off loc: "uid",
// "name", or a key under AdditionalData.
func (m *Mapper) identifierValue(loc model.Location) string {
	switch m.identifierField {
	case "", "uid":
		return loc.UID
	case "name":
		return loc.Name
	default:
		if v, ok := loc.AdditionalData[m.identifierField]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
}

// cloneLocation returns a shallow copy of loc with its own AdditionalData
// map, so mapping one location never mutates the caller's original map
// or another location that happens to share it.
func cloneLocation(loc model.Location) model.Location {
	clone := loc
	clone.AdditionalData = make(map[string]any, len(loc.AdditionalData)+3)
	for k, v := range loc.AdditionalData {
		clone.AdditionalData[k] = v
	}
	return clone
}

// normalizeIdentifier trims, lowercases, and NFC-normalises an
// identifier string so lookups are stable across case and Unicode
// representation differences between provider and configuration input.
func normalizeIdentifier(s string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(s)))
}
