package pricing

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"rentradar/internal/domain"
)

const (
	weeksPerMonth     = 4.33
	sizePremium       = 1.05
	sizePremiumSqFt   = 1000
	luxuryPremiumRate = 0.015
	positionThreshold = 0.10
	confidenceWithRef = 0.85
	confidenceNoRef   = 0.5
	feeAmortizeMonths = 12
)

var (
	monthsFreeRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:month|mo)s?\s+(?:of\s+)?free`)
	weeksFreeRe  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:week|wk)s?\s+(?:of\s+)?free`)
	dollarsOffRe = regexp.MustCompile(`(?i)\$\s*([\d,]+(?:\.\d+)?)\s*(?:off|credit|waived|discount)`)
)

// MarketContext carries the external reference data a derivation runs against.
// MarketRent of 0 means no reference rent is available.
type MarketContext struct {
	MarketRent float64
	Demand     domain.DemandLevel
}

// Engine turns a validated extraction into deterministic pricing
// intelligence. Derive is a pure function of its inputs: re-deriving from the
// same result yields identical output.
type Engine struct {
	leaseTermMonths int
	luxury          []string
}

func New(leaseTermMonths int, luxuryAmenities []string) *Engine {
	if leaseTermMonths <= 0 {
		leaseTermMonths = 12
	}
	lux := make([]string, 0, len(luxuryAmenities))
	for _, a := range luxuryAmenities {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			lux = append(lux, a)
		}
	}
	return &Engine{leaseTermMonths: leaseTermMonths, luxury: lux}
}

// Derive computes the full pricing row for one extraction result.
func (e *Engine) Derive(externalID string, res domain.ExtractionResult, mc MarketContext) domain.PriceIntelligence {
	base := res.CurrentPrice
	concession := e.ConcessionValue(base, res.ConcessionTexts)

	position, confidence := marketPosition(base, mc.MarketRent)

	return domain.PriceIntelligence{
		ExternalID:           externalID,
		BasePrice:            base,
		EffectivePrice:       effectivePrice(base, concession, res.Fees),
		AIPrice:              e.aiPrice(base, res),
		ConcessionValue:      concession,
		MarketPosition:       position,
		ConfidenceScore:      confidence,
		CompetitivenessScore: competitivenessScore(confidence, mc.Demand, position),
	}
}

// ConcessionValue sums the dollar value of every concession phrase detected.
// Overlapping or mutually exclusive offers in the same text are summed as-is;
// no dedup rule is applied.
func (e *Engine) ConcessionValue(basePrice float64, texts []string) float64 {
	monthly := basePrice / float64(e.leaseTermMonths)
	var total float64
	for _, text := range texts {
		for _, m := range monthsFreeRe.FindAllStringSubmatch(text, -1) {
			if n, err := strconv.ParseFloat(m[1], 64); err == nil {
				total += n * monthly
			}
		}
		for _, m := range weeksFreeRe.FindAllStringSubmatch(text, -1) {
			if n, err := strconv.ParseFloat(m[1], 64); err == nil {
				total += (n / weeksPerMonth) * monthly
			}
		}
		for _, m := range dollarsOffRe.FindAllStringSubmatch(text, -1) {
			raw := strings.ReplaceAll(m[1], ",", "")
			if n, err := strconv.ParseFloat(raw, 64); err == nil {
				total += n
			}
		}
	}
	return total
}

// effectivePrice is the amortized true monthly cost: rent minus concessions
// plus amortized move-in fees, clamped at zero.
func effectivePrice(base, concession float64, fees domain.FeeInfo) float64 {
	adminFee := fees.AdminFeeAmount
	if fees.AdminFeeWaived {
		adminFee = 0
	}
	monthlyFees := (fees.ApplicationFee + adminFee) / feeAmortizeMonths
	return math.Max(0, base-concession+monthlyFees)
}

// aiPrice is an upward market-value estimate independent of concessions.
// The size premium applies first, then the luxury premium compounds on top;
// this ordering is fixed for reproducibility.
func (e *Engine) aiPrice(base float64, res domain.ExtractionResult) float64 {
	price := base
	if res.SquareFeet > sizePremiumSqFt {
		price *= sizePremium
	}
	if n := e.luxuryCount(res.Amenities); n > 0 {
		price *= 1 + luxuryPremiumRate*float64(n)
	}
	return math.Round(price)
}

func (e *Engine) luxuryCount(amenities []string) int {
	count := 0
	for _, lux := range e.luxury {
		for _, a := range amenities {
			if strings.Contains(strings.ToLower(a), lux) {
				count++
				break
			}
		}
	}
	return count
}

// marketPosition compares base rent against the reference rent. Without a
// reference it defaults to AtMarket with lowered confidence rather than
// guessing.
func marketPosition(base, marketRent float64) (domain.MarketPosition, float64) {
	if marketRent <= 0 {
		return domain.AtMarket, confidenceNoRef
	}
	delta := (base - marketRent) / marketRent
	switch {
	case delta < -positionThreshold:
		return domain.BelowMarket, confidenceWithRef
	case delta > positionThreshold:
		return domain.AboveMarket, confidenceWithRef
	default:
		return domain.AtMarket, confidenceWithRef
	}
}

var demandFactor = map[domain.DemandLevel]float64{
	domain.DemandLow:    0.3,
	domain.DemandMedium: 0.6,
	domain.DemandHigh:   0.9,
}

var positionFactor = map[domain.MarketPosition]float64{
	domain.BelowMarket: 0.9,
	domain.AtMarket:    0.6,
	domain.AboveMarket: 0.3,
}

// competitivenessScore is a presentation heuristic, not market science:
// a fixed weighted blend rounded to an integer in [0, 100].
func competitivenessScore(confidence float64, demand domain.DemandLevel, position domain.MarketPosition) int {
	df, ok := demandFactor[demand]
	if !ok {
		df = demandFactor[domain.DemandMedium]
	}
	pf := positionFactor[position]
	return int(math.Round(100 * (0.4*confidence + 0.3*df + 0.3*pf)))
}
