// SPDX-License-Identifier: GPL-3.0-or-later

package cot_test

import (
	"fmt"
	"strings"
	"time"

	"github.com/emfoursolutions/trakbridge-core/internal/cot"
	"github.com/emfoursolutions/trakbridge-core/internal/model"
)

// This example encodes a single tracker observation as a CoT event with
// a fixed clock, so the output is reproducible.
func ExampleEncoder_Encode() {
	encoder := cot.NewEncoder(nil)
	encoder.TimeNow = func() time.Time {
		return time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	}

	loc := model.Location{
		UID:  "G-1",
		Name: "Gamma",
		Lat:  46.886493,
		Lon:  29.207861,
	}
	cfg := model.StreamConfig{
		CotTypeDefault: "a-f-G-F-U",
		CotStale:       5 * time.Minute,
		CotTypeMode:    model.CotTypeModeStream,
	}

	out, err := encoder.Encode(loc, cfg, cot.ResolveEffectiveCotType(loc, cfg))
	if err != nil {
		fmt.Println(err)
		return
	}

	// Strip the trailing null framing byte for printing.
	fmt.Println(strings.TrimSuffix(string(out), "\x00"))

	// Output:
	// <event version="2.0" uid="G-1" type="a-f-G-F-U" how="m-g" time="2026-07-29T12:00:00.000Z" start="2026-07-29T12:00:00.000Z" stale="2026-07-29T12:05:00.000Z"><point lat="46.886493" lon="29.207861" hae="9999999.0" ce="9999999.0" le="9999999.0"/><detail><contact callsign="Gamma"/><precisionlocation altsrc="GPS"/></detail></event>
}
