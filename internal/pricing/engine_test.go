package pricing

import (
	"math"
	"testing"

	"rentradar/internal/domain"
)

func defaultEngine() *Engine {
	return New(12, []string{"pool", "gym", "concierge", "doorman", "rooftop"})
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func TestDeriveOneMonthFreeWithFees(t *testing.T) {
	e := defaultEngine()
	res := domain.ExtractionResult{
		CurrentPrice:    2400,
		ConcessionTexts: []string{"1 month free rent with 12-month lease"},
		Fees: domain.FeeInfo{
			ApplicationFee: 100,
			AdminFeeAmount: 150,
			AdminFeeWaived: false,
		},
	}
	pi := e.Derive("job-1", res, MarketContext{Demand: domain.DemandMedium})

	if !almostEqual(pi.ConcessionValue, 200) {
		t.Errorf("ConcessionValue: got %.2f, want 200", pi.ConcessionValue)
	}
	// 2400 - 200 + (100+150)/12
	if !almostEqual(pi.EffectivePrice, 2220.83) {
		t.Errorf("EffectivePrice: got %.2f, want 2220.83", pi.EffectivePrice)
	}
}

func TestDeriveWaivedAdminFee(t *testing.T) {
	e := defaultEngine()
	res := domain.ExtractionResult{
		CurrentPrice: 2200,
		Fees: domain.FeeInfo{
			ApplicationFee: 100,
			AdminFeeAmount: 250,
			AdminFeeWaived: true,
		},
	}
	pi := e.Derive("job-2", res, MarketContext{Demand: domain.DemandMedium})

	if pi.ConcessionValue != 0 {
		t.Errorf("ConcessionValue: got %.2f, want 0", pi.ConcessionValue)
	}
	// only the application fee amortizes: 2200 + 100/12
	if !almostEqual(pi.EffectivePrice, 2208.33) {
		t.Errorf("EffectivePrice: got %.2f, want 2208.33", pi.EffectivePrice)
	}
}

func TestAIPriceSizeAndLuxuryPremiums(t *testing.T) {
	e := defaultEngine()
	res := domain.ExtractionResult{
		CurrentPrice: 3000,
		SquareFeet:   1200,
		Amenities:    []string{"Pool", "Fitness Gym", "24h Concierge"},
	}
	pi := e.Derive("job-3", res, MarketContext{Demand: domain.DemandMedium})

	// 3000 * 1.05 * (1 + 0.015*3) = 3291.75, rounded
	if pi.AIPrice != 3292 {
		t.Errorf("AIPrice: got %.0f, want 3292", pi.AIPrice)
	}
}

func TestAIPriceNoPremiums(t *testing.T) {
	e := defaultEngine()
	res := domain.ExtractionResult{CurrentPrice: 1800, SquareFeet: 900}
	pi := e.Derive("job-4", res, MarketContext{Demand: domain.DemandMedium})
	if pi.AIPrice != 1800 {
		t.Errorf("AIPrice: got %.0f, want 1800", pi.AIPrice)
	}
}

func TestConcessionWeeksFree(t *testing.T) {
	e := defaultEngine()
	// 2 weeks of a 2166-per-month amortized value: (2/4.33) * (2166/12)
	got := e.ConcessionValue(2166, []string{"2 weeks free on select units"})
	want := (2.0 / 4.33) * (2166.0 / 12.0)
	if !almostEqual(got, want) {
		t.Errorf("ConcessionValue: got %.2f, want %.2f", got, want)
	}
}

func TestConcessionDollarsOff(t *testing.T) {
	e := defaultEngine()
	got := e.ConcessionValue(2000, []string{"$500 off your first month", "admin fee $1,200 waived"})
	if !almostEqual(got, 1700) {
		t.Errorf("ConcessionValue: got %.2f, want 1700", got)
	}
}

func TestConcessionsSummedWithoutDedup(t *testing.T) {
	e := defaultEngine()
	// overlapping offers in one sentence are summed as-is
	got := e.ConcessionValue(2400, []string{"1 month free or 2 months free on 18-month terms"})
	if !almostEqual(got, 600) {
		t.Errorf("ConcessionValue: got %.2f, want 600", got)
	}
}

func TestEffectivePriceNeverNegative(t *testing.T) {
	e := defaultEngine()
	res := domain.ExtractionResult{
		CurrentPrice:    100,
		ConcessionTexts: []string{"$5000 off move-in"},
	}
	pi := e.Derive("job-5", res, MarketContext{})
	if pi.EffectivePrice < 0 {
		t.Errorf("EffectivePrice went negative: %.2f", pi.EffectivePrice)
	}
	if pi.EffectivePrice != 0 {
		t.Errorf("EffectivePrice: got %.2f, want clamp at 0", pi.EffectivePrice)
	}
}

func TestMarketPositionThresholds(t *testing.T) {
	e := defaultEngine()
	cases := []struct {
		base float64
		want domain.MarketPosition
	}{
		{1700, domain.BelowMarket}, // -15%
		{1900, domain.AtMarket},    // -5%
		{2000, domain.AtMarket},
		{2100, domain.AtMarket}, // +5%
		{2300, domain.AboveMarket}, // +15%
	}
	for _, c := range cases {
		pi := e.Derive("job", domain.ExtractionResult{CurrentPrice: c.base},
			MarketContext{MarketRent: 2000, Demand: domain.DemandMedium})
		if pi.MarketPosition != c.want {
			t.Errorf("base %.0f vs market 2000: got %s, want %s", c.base, pi.MarketPosition, c.want)
		}
		if pi.ConfidenceScore != 0.85 {
			t.Errorf("ConfidenceScore with reference: got %.2f, want 0.85", pi.ConfidenceScore)
		}
	}
}

func TestMarketPositionWithoutReference(t *testing.T) {
	e := defaultEngine()
	pi := e.Derive("job", domain.ExtractionResult{CurrentPrice: 2500}, MarketContext{Demand: domain.DemandLow})
	if pi.MarketPosition != domain.AtMarket {
		t.Errorf("MarketPosition: got %s, want at_market", pi.MarketPosition)
	}
	if pi.ConfidenceScore != 0.5 {
		t.Errorf("ConfidenceScore: got %.2f, want 0.5", pi.ConfidenceScore)
	}
}

func TestCompetitivenessScoreBlend(t *testing.T) {
	// 100 * (0.4*0.85 + 0.3*0.9 + 0.3*0.9) = 88
	e := defaultEngine()
	pi := e.Derive("job", domain.ExtractionResult{CurrentPrice: 1500},
		MarketContext{MarketRent: 2000, Demand: domain.DemandHigh})
	if pi.CompetitivenessScore != 88 {
		t.Errorf("CompetitivenessScore: got %d, want 88", pi.CompetitivenessScore)
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	e := defaultEngine()
	res := domain.ExtractionResult{
		CurrentPrice:    2750,
		SquareFeet:      1100,
		Amenities:       []string{"pool", "rooftop deck"},
		ConcessionTexts: []string{"6 weeks free", "$250 off"},
		Fees:            domain.FeeInfo{ApplicationFee: 75, AdminFeeAmount: 200},
	}
	mc := MarketContext{MarketRent: 2600, Demand: domain.DemandHigh}
	first := e.Derive("job", res, mc)
	for i := 0; i < 10; i++ {
		if got := e.Derive("job", res, mc); got != first {
			t.Fatalf("derivation not deterministic: %+v vs %+v", got, first)
		}
	}
}
