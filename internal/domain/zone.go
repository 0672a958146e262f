package domain

// ZoneAnchors records the market inputs the zone bounds were derived from.
type ZoneAnchors struct {
	VWAP      float64
	ATR       float64
	SpreadBps float64
	DepthUSD  float64
}

// EntryZone is a bounded, side-aware price interval for maker order
// placement. Built once per decision and read-only afterwards.
type EntryZone struct {
	Symbol    string
	Side      Side
	Timeframe string

	EntryMin  float64 // tick-quantized lower bound
	EntryMax  float64 // tick-quantized upper bound
	ZoneWidth float64 // absolute price units, after clamping and conversion

	Anchors       ZoneAnchors
	QualityPassed bool
	Evidence      map[string]any
}

// Midpoint returns the centre of the zone.
func (z EntryZone) Midpoint() float64 {
	return (z.EntryMin + z.EntryMax) / 2
}

// Valid reports whether the zone passed its quality gate and has sane
// bounds. Only valid zones get the split maker ladder; invalid zones are
// rejected by the orchestrator before planning.
func (z EntryZone) Valid() bool {
	return z.QualityPassed && z.EntryMin > 0 && z.EntryMin <= z.EntryMax
}
