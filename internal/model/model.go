// SPDX-License-Identifier: GPL-3.0-or-later

// Package model holds the read-only data types exchanged between the
// configuration collaborator and the streaming core: locations produced
// by providers, per-stream and per-server configuration snapshots, and
// the closed enumerations the rest of the core switches on.
package model

import "time"

// TeamRole is one of the 8 allowed CoT team-member roles.
//
// Unknown values fail [TeamRole.IsValid]; the encoder substitutes
// [DefaultTeamRole] for them.
type TeamRole string

// Allowed team roles (closed enumeration).
const (
	TeamRoleTeamMember   TeamRole = "Team Member"
	TeamRoleTeamLead     TeamRole = "Team Lead"
	TeamRoleHQ           TeamRole = "HQ"
	TeamRoleSniper       TeamRole = "Sniper"
	TeamRoleMedic        TeamRole = "Medic"
	TeamRoleForwardObsvr TeamRole = "Forward Observer"
	TeamRoleRTO          TeamRole = "RTO"
	TeamRoleK9           TeamRole = "K9"
)

// DefaultTeamRole is the fallback used when an input role is unrecognised.
const DefaultTeamRole = TeamRoleTeamMember

var validTeamRoles = map[TeamRole]bool{
	TeamRoleTeamMember:   true,
	TeamRoleTeamLead:     true,
	TeamRoleHQ:           true,
	TeamRoleSniper:       true,
	TeamRoleMedic:        true,
	TeamRoleForwardObsvr: true,
	TeamRoleRTO:          true,
	TeamRoleK9:           true,
}

// IsValid reports whether r is one of the 8 allowed team roles.
func (r TeamRole) IsValid() bool {
	return validTeamRoles[r]
}

// TeamColor is one of the 14 allowed CoT team-member colours.
type TeamColor string

// Allowed team colors (closed enumeration).
const (
	TeamColorWhite      TeamColor = "White"
	TeamColorYellow     TeamColor = "Yellow"
	TeamColorOrange     TeamColor = "Orange"
	TeamColorMagenta    TeamColor = "Magenta"
	TeamColorRed        TeamColor = "Red"
	TeamColorMaroon     TeamColor = "Maroon"
	TeamColorPurple     TeamColor = "Purple"
	TeamColorDarkBlue   TeamColor = "Dark Blue"
	TeamColorBlue       TeamColor = "Blue"
	TeamColorCyan       TeamColor = "Cyan"
	TeamColorTeal       TeamColor = "Teal"
	TeamColorGreen      TeamColor = "Green"
	TeamColorDarkGreen  TeamColor = "Dark Green"
	TeamColorBrown      TeamColor = "Brown"
)

// DefaultTeamColor is the fallback used when an input color is unrecognised.
const DefaultTeamColor = TeamColorCyan

var validTeamColors = map[TeamColor]bool{
	TeamColorWhite:     true,
	TeamColorYellow:    true,
	TeamColorOrange:    true,
	TeamColorMagenta:   true,
	TeamColorRed:       true,
	TeamColorMaroon:    true,
	TeamColorPurple:    true,
	TeamColorDarkBlue:  true,
	TeamColorBlue:      true,
	TeamColorCyan:      true,
	TeamColorTeal:      true,
	TeamColorGreen:     true,
	TeamColorDarkGreen: true,
	TeamColorBrown:     true,
}

// IsValid reports whether c is one of the 14 allowed team colors.
func (c TeamColor) IsValid() bool {
	return validTeamColors[c]
}

// OverflowPolicy governs what a [TakServerConfig]'s bounded queue does when full.
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDropNewest OverflowPolicy = "drop_newest"
	OverflowBlock      OverflowPolicy = "block"
)

// CotTypeMode selects how a stream resolves the CoT type of each location.
type CotTypeMode string

const (
	CotTypeModeStream   CotTypeMode = "stream"
	CotTypeModePerPoint CotTypeMode = "per_point"
)

// FallbackPolicy governs unmapped-tracker handling in the callsign mapper.
type FallbackPolicy string

const (
	FallbackPassThrough FallbackPolicy = "pass_through"
	FallbackDrop        FallbackPolicy = "drop"
)

// Reserved keys inside [Location.AdditionalData].
const (
	KeyBatteryState      = "battery_state"
	KeyTeamMemberEnabled = "team_member_enabled"
	KeyTeamRole          = "team_role"
	KeyTeamColor         = "team_color"
	KeyCotType           = "cot_type"
)

// Location is one observation produced by a provider.Client and consumed
// by the CoT encoder. Constructed by fetch, mutated only by the callsign
// mapper, discarded after encoding.
type Location struct {
	// UID is the stable string identifier for the tracked object.
	UID string

	// Name is the display string, possibly overridden by a callsign mapping.
	Name string

	// Lat, Lon are decimal degrees, WGS84.
	Lat, Lon float64

	// Timestamp is the UTC instant the observation was taken, or nil.
	// The CoT encoder does not read it: every event is stamped with the
	// encoding time.
	Timestamp *time.Time

	// Speed is in m/s, must be >=0 when present.
	Speed *float64

	// Course is in degrees, normalised to [0,360) when present.
	Course *float64

	// AdditionalData is a free-form key/value map. See the Key*
	// constants above for the reserved keys the encoder understands.
	AdditionalData map[string]any

	// CustomCotAttrib is a structured XML extension tree; see
	// internal/cot for the shape it must take.
	CustomCotAttrib map[string]any
}

// CallsignMapping overrides a single tracked object's presentation.
type CallsignMapping struct {
	// IdentifierValue matches against a stream-designated identifier field.
	IdentifierValue string

	// AssignedCallsign, if non-empty, overrides Location.Name.
	AssignedCallsign string

	// CotTypeOverride is either a literal CoT type string or the
	// sentinel value "team_member".
	CotTypeOverride string

	// TeamRole, TeamColor are valid only when CotTypeOverride is the
	// "team_member" sentinel.
	TeamRole  TeamRole
	TeamColor TeamColor

	// Enabled must be true for the mapping to apply. False, which is
	// also the zero value, drops the matching location.
	Enabled bool
}

// CotTypeOverrideTeamMember is the sentinel CotTypeOverride value that
// routes a mapped tracker through the team-member CoT branch.
const CotTypeOverrideTeamMember = "team_member"

// StreamConfig is a per-pipeline, read-only snapshot handed in by the
// configuration collaborator. The core never mutates it; reconfigure
// replaces it wholesale.
type StreamConfig struct {
	ID                int
	Name              string
	ProviderKind      string
	ProviderConfig    map[string]any
	PollInterval      time.Duration
	CotTypeDefault    string
	CotStale          time.Duration
	AttachedServerIDs []int
	CallsignMappings  []CallsignMapping
	CotTypeMode       CotTypeMode
	Active            bool

	// IdentifierField names which field the callsign mapper matches
	// CallsignMapping.IdentifierValue against: "uid", "name", or a key
	// under AdditionalData.
	IdentifierField string

	// UnmappedFallback selects pass-through or drop for trackers with
	// no matching CallsignMapping.
	UnmappedFallback FallbackPolicy
}

// TakServerConfig is a per-connection, read-only snapshot.
type TakServerConfig struct {
	ID          int
	Host        string
	Port        int
	Protocol    string // "tcp" or "tls"
	P12Bytes    []byte
	P12Password string

	// VerifyPeer controls whether the TAK server's certificate chain is
	// validated. nil means verify: a snapshot that omits the field gets
	// peer verification, and only an explicit false disables it.
	VerifyPeer *bool

	QueueCapacity  int
	OverflowPolicy OverflowPolicy
}

// ShouldVerifyPeer resolves the tri-state VerifyPeer field: unset
// defaults to true.
func (c TakServerConfig) ShouldVerifyPeer() bool {
	return c.VerifyPeer == nil || *c.VerifyPeer
}

// CotEvent is the internal, already-resolved representation of one CoT
// event prior to XML serialisation.
type CotEvent struct {
	UID, Type          string
	Time, Start, Stale time.Time
	Lat, Lon, Hae, Ce, Le float64
	DetailXML          string
}
