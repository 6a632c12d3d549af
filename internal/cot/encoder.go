// SPDX-License-Identifier: GPL-3.0-or-later

// Package cot turns location batches into Cursor-on-Target XML events.
// Encoding is pure and safe for parallel invocation: every call takes its
// inputs as values or read-only maps, and no shared mutable state is
// touched between calls.
package cot

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emfoursolutions/trakbridge-core/internal/model"
	"github.com/emfoursolutions/trakbridge-core/internal/netpipe"
)

// sentinelUnknown is the CoT convention for "accuracy not available" on
// the hae/ce/le point attributes.
const sentinelUnknown = "9999999.0"

// teamMemberCotType is forced on every team-member event, overriding
// whatever effective CoT type the caller resolved.
const teamMemberCotType = "a-f-G-U-C"

var eventProtectedAttrs = map[string]bool{
	"version": true, "uid": true, "type": true,
	"time": true, "start": true, "stale": true, "how": true,
}

var detailProtectedChildren = map[string]bool{
	"contact": true, "uid": true, "precisionlocation": true,
	"__group": true, "status": true, "track": true,
}

// NewEncoder returns a new [*Encoder] with the given logger (a no-op
// logger when nil) and the system clock.
func NewEncoder(logger netpipe.SLogger) *Encoder {
	if logger == nil {
		logger = netpipe.DefaultSLogger()
	}
	return &Encoder{
		Logger:  logger,
		TimeNow: time.Now,
	}
}

// Encoder encodes [model.Location] values into CoT XML. The zero value
// has a nil Logger and panics the first time it logs; use [NewEncoder].
//
// All fields are safe to modify after construction but before first use.
type Encoder struct {
	// Logger receives a structured event for every dropped protected
	// name and every skipped invalid location.
	Logger netpipe.SLogger

	// TimeNow returns the current time (configurable for testing).
	TimeNow func() time.Time
}

// ResolveEffectiveCotType implements the cot_type resolution rules: a
// team-member location always resolves to the team-member type; in
// stream mode every location in the stream uses cfg.CotTypeDefault; in
// per-point mode a cot_type carried on the location (set by the callsign
// mapper or the provider) takes priority, falling back to the default.
func ResolveEffectiveCotType(loc model.Location, cfg model.StreamConfig) string {
	if isTeamMemberEnabled(loc) {
		return teamMemberCotType
	}
	if cfg.CotTypeMode == model.CotTypeModeStream {
		return cfg.CotTypeDefault
	}
	if v, ok := loc.AdditionalData[model.KeyCotType].(string); ok && v != "" {
		return v
	}
	return cfg.CotTypeDefault
}

// Encode renders one location as a null-terminated CoT XML event. An
// invalid location is skipped: the encoder logs and returns an error
// without touching any other location in the batch.
func (e *Encoder) Encode(loc model.Location, cfg model.StreamConfig, effectiveCotType string) ([]byte, error) {
	if err := model.ValidateLocation(loc); err != nil {
		e.Logger.Info("cotEncodeSkipped", "uid", loc.UID, "err", err)
		return nil, err
	}

	now := e.now()
	stale := now.Add(cfg.CotStale)

	teamMember := isTeamMemberEnabled(loc)
	how := "m-g"
	cotType := effectiveCotType
	if teamMember {
		how = "h-e"
		cotType = teamMemberCotType
	}

	event := &xmlElement{
		Name: "event",
		Attrs: []xmlAttr{
			{"version", "2.0"},
			{"uid", escapeXML(loc.UID)},
			{"type", escapeXML(cotType)},
			{"how", how},
			{"time", formatCotTime(now)},
			{"start", formatCotTime(now)},
			{"stale", formatCotTime(stale)},
		},
	}

	point := &xmlElement{Name: "point", Attrs: []xmlAttr{
		{"lat", formatFloat(loc.Lat)},
		{"lon", formatFloat(loc.Lon)},
		{"hae", sentinelUnknown},
		{"ce", sentinelUnknown},
		{"le", sentinelUnknown},
	}}

	detail := &xmlElement{Name: "detail"}
	if teamMember {
		e.buildTeamMemberDetail(detail, loc)
	} else {
		e.buildStandardDetail(detail, loc)
	}

	event.Children = []*xmlElement{point, detail}

	if loc.CustomCotAttrib != nil {
		warn := func(msg string) {
			e.Logger.Info("cotCustomAttribDropped", "uid", loc.UID, "reason", msg)
		}
		if ev, ok := loc.CustomCotAttrib["event"]; ok {
			mergeCustomInto(event, ev, eventProtectedAttrs, nil, warn)
		}
		if dt, ok := loc.CustomCotAttrib["detail"]; ok {
			mergeCustomInto(detail, dt, nil, detailProtectedChildren, warn)
		}
	}

	return renderEvent(event), nil
}

// EncodeBatch encodes every location in locs, resolving each one's
// effective CoT type through resolve. Invalid locations are skipped
// (already logged by Encode) without aborting the rest of the batch.
func (e *Encoder) EncodeBatch(locs []model.Location, cfg model.StreamConfig, resolve func(model.Location) string) [][]byte {
	out := make([][]byte, 0, len(locs))
	for _, loc := range locs {
		b, err := e.Encode(loc, cfg, resolve(loc))
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

func renderEvent(event *xmlElement) []byte {
	var buf bytes.Buffer
	event.render(&buf)
	buf.WriteByte(0)
	return buf.Bytes()
}

func (e *Encoder) buildStandardDetail(detail *xmlElement, loc model.Location) {
	detail.Children = append(detail.Children, &xmlElement{
		Name: "contact", Attrs: []xmlAttr{{"callsign", escapeXML(loc.Name)}},
	})

	if loc.Speed != nil || loc.Course != nil {
		var parts []string
		if loc.Speed != nil {
			parts = append(parts, fmt.Sprintf("Speed: %s m/s", formatFloat(*loc.Speed)))
		}
		if loc.Course != nil {
			parts = append(parts, fmt.Sprintf("Course: %s deg", formatFloat(*loc.Course)))
		}
		detail.Children = append(detail.Children, &xmlElement{
			Name: "remarks", Text: escapeXML(strings.Join(parts, "; ")),
		})
	}

	detail.Children = append(detail.Children, &xmlElement{
		Name: "precisionlocation", Attrs: []xmlAttr{{"altsrc", "GPS"}},
	})

	if battery, ok := intFromAny(loc.AdditionalData[model.KeyBatteryState]); ok {
		detail.Children = append(detail.Children, &xmlElement{
			Name: "status", Attrs: []xmlAttr{{"battery", strconv.Itoa(battery)}},
		})
	}
}

func (e *Encoder) buildTeamMemberDetail(detail *xmlElement, loc model.Location) {
	detail.Children = append(detail.Children,
		&xmlElement{Name: "contact", Attrs: []xmlAttr{
			{"callsign", escapeXML(loc.Name)},
			{"endpoint", "*:-1:stcp"},
		}},
		&xmlElement{Name: "uid", Attrs: []xmlAttr{{"Droid", escapeXML(loc.Name)}}},
	)

	role := model.DefaultTeamRole
	if r, ok := loc.AdditionalData[model.KeyTeamRole].(string); ok {
		if tr := model.TeamRole(r); tr.IsValid() {
			role = tr
		} else {
			e.Logger.Info("cotUnknownTeamRole", "uid", loc.UID, "value", r, "fallback", string(role))
		}
	}

	color := model.DefaultTeamColor
	if c, ok := loc.AdditionalData[model.KeyTeamColor].(string); ok {
		if tc := model.TeamColor(c); tc.IsValid() {
			color = tc
		} else {
			e.Logger.Info("cotUnknownTeamColor", "uid", loc.UID, "value", c, "fallback", string(color))
		}
	}

	detail.Children = append(detail.Children, &xmlElement{
		Name: "__group", Attrs: []xmlAttr{
			{"name", escapeXML(string(color))},
			{"role", escapeXML(string(role))},
		},
	})

	if battery, ok := intFromAny(loc.AdditionalData[model.KeyBatteryState]); ok {
		detail.Children = append(detail.Children, &xmlElement{
			Name: "status", Attrs: []xmlAttr{{"battery", strconv.Itoa(battery)}},
		})
	}

	if loc.Speed != nil || loc.Course != nil {
		track := &xmlElement{Name: "track"}
		if loc.Speed != nil {
			track.Attrs = append(track.Attrs, xmlAttr{"speed", formatFloat(*loc.Speed)})
		}
		if loc.Course != nil {
			track.Attrs = append(track.Attrs, xmlAttr{"course", formatFloat(*loc.Course)})
		}
		detail.Children = append(detail.Children, track)
	}
}

func (e *Encoder) now() time.Time {
	if e.TimeNow != nil {
		return e.TimeNow()
	}
	return time.Now()
}

func isTeamMemberEnabled(loc model.Location) bool {
	v, ok := loc.AdditionalData[model.KeyTeamMemberEnabled]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func intFromAny(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func formatCotTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
