// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// ValidateLocation checks a location's invariants: non-empty uid/name,
// lat/lon in range, non-negative speed, course normalised to [0,360).
func ValidateLocation(loc Location) error {
	if loc.UID == "" {
		return fmt.Errorf("location: uid must not be empty")
	}
	if loc.Name == "" {
		return fmt.Errorf("location %q: name must not be empty", loc.UID)
	}
	if loc.Lat < -90 || loc.Lat > 90 {
		return fmt.Errorf("location %q: lat %g out of range [-90,90]", loc.UID, loc.Lat)
	}
	if loc.Lon < -180 || loc.Lon > 180 {
		return fmt.Errorf("location %q: lon %g out of range [-180,180]", loc.UID, loc.Lon)
	}
	if loc.Speed != nil && *loc.Speed < 0 {
		return fmt.Errorf("location %q: speed %g must be >=0", loc.UID, *loc.Speed)
	}
	if loc.Course != nil && (*loc.Course < 0 || *loc.Course >= 360) {
		return fmt.Errorf("location %q: course %g out of range [0,360)", loc.UID, *loc.Course)
	}
	return nil
}

// ValidateStreamConfig checks a stream's invariants: poll interval
// at least 1s and unique callsign mapping identifiers.
func ValidateStreamConfig(cfg StreamConfig) error {
	if cfg.PollInterval < time.Second {
		return fmt.Errorf("stream %d: poll_interval %s must be >= 1s", cfg.ID, cfg.PollInterval)
	}
	seen := make(map[string]bool, len(cfg.CallsignMappings))
	for _, m := range cfg.CallsignMappings {
		if seen[m.IdentifierValue] {
			return fmt.Errorf("stream %d: duplicate callsign mapping identifier %q", cfg.ID, m.IdentifierValue)
		}
		seen[m.IdentifierValue] = true
	}
	return nil
}

// ValidateTakServerConfig checks a server snapshot's invariants:
// a queue capacity and a recognised protocol/overflow policy.
func ValidateTakServerConfig(cfg TakServerConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("tak server %d: host must not be empty", cfg.ID)
	}
	if cfg.Protocol != "tcp" && cfg.Protocol != "tls" {
		return fmt.Errorf("tak server %d: protocol %q must be tcp or tls", cfg.ID, cfg.Protocol)
	}
	switch cfg.OverflowPolicy {
	case OverflowDropOldest, OverflowDropNewest, OverflowBlock:
	default:
		return fmt.Errorf("tak server %d: unknown overflow policy %q", cfg.ID, cfg.OverflowPolicy)
	}
	if cfg.QueueCapacity < 1 {
		return fmt.Errorf("tak server %d: queue_capacity %d must be >=1", cfg.ID, cfg.QueueCapacity)
	}
	return nil
}
