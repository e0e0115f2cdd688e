package domain

type MarketPosition string

const (
	BelowMarket MarketPosition = "below_market"
	AtMarket    MarketPosition = "at_market"
	AboveMarket MarketPosition = "above_market"
)

type DemandLevel string

const (
	DemandLow    DemandLevel = "low"
	DemandMedium DemandLevel = "medium"
	DemandHigh   DemandLevel = "high"
)

// PriceIntelligence is derived wholesale from one ExtractionResult and
// overwritten on re-crawl of the same target.
type PriceIntelligence struct {
	ExternalID           string
	BasePrice            float64
	EffectivePrice       float64
	AIPrice              float64
	ConcessionValue      float64
	MarketPosition       MarketPosition
	ConfidenceScore      float64
	CompetitivenessScore int
}
