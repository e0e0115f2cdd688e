package extract

import (
	"strconv"
	"strings"

	"rentradar/internal/domain"
)

const (
	maxPrice = 50000
	maxRooms = 10
)

// Validate checks the raw extraction payload against required-field and
// numeric-range rules and materializes it as an ExtractionResult. It is
// deliberately conservative: out-of-range values are rejected, never clamped,
// because downstream pricing math assumes sane inputs. Unknown fields are
// dropped. Every violation is a ValidationError naming the offending field.
func Validate(raw map[string]any) (domain.ExtractionResult, error) {
	var res domain.ExtractionResult

	name, ok := stringField(raw, "name")
	if !ok {
		return res, domain.Ef(domain.KindValidation, "field name: missing or blank")
	}
	address, ok := stringField(raw, "address")
	if !ok {
		return res, domain.Ef(domain.KindValidation, "field address: missing or blank")
	}
	city, ok := stringField(raw, "city")
	if !ok {
		return res, domain.Ef(domain.KindValidation, "field city: missing or blank")
	}
	state, ok := stringField(raw, "state")
	if !ok {
		return res, domain.Ef(domain.KindValidation, "field state: missing or blank")
	}
	if !validState(state) {
		return res, domain.Ef(domain.KindValidation, "field state: %q is not two uppercase letters", state)
	}

	price, ok := numberField(raw, "current_price")
	if !ok {
		return res, domain.Ef(domain.KindValidation, "field current_price: missing or not numeric")
	}
	if price <= 0 || price > maxPrice {
		return res, domain.Ef(domain.KindValidation, "field current_price: %v out of range (0, %d]", price, maxPrice)
	}

	bedrooms, has, err := optionalNumber(raw, "bedrooms", 0, maxRooms)
	if err != nil {
		return res, err
	}
	if !has {
		bedrooms = 0
	}
	bathrooms, has, err := optionalNumber(raw, "bathrooms", 0, maxRooms)
	if err != nil {
		return res, err
	}
	if !has {
		bathrooms = 0
	}
	squareFeet, _, err := optionalNumber(raw, "square_feet", 0, 1<<20)
	if err != nil {
		return res, err
	}

	res = domain.ExtractionResult{
		Name:            name,
		Address:         address,
		City:            city,
		State:           state,
		CurrentPrice:    price,
		Bedrooms:        bedrooms,
		Bathrooms:       bathrooms,
		SquareFeet:      squareFeet,
		Amenities:       stringSlice(raw["amenities"]),
		ConcessionTexts: stringSlice(raw["concessions"]),
		Fees:            feeInfo(raw["fee_info"]),
	}
	return res, nil
}

func stringField(raw map[string]any, key string) (string, bool) {
	s, ok := raw[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func validState(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// numberField tolerates the AI service returning numbers as strings.
func numberField(raw map[string]any, key string) (float64, bool) {
	return toNumber(raw[key])
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(n, "$"), ",", ""))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func optionalNumber(raw map[string]any, key string, min, max float64) (float64, bool, error) {
	v, present := raw[key]
	if !present || v == nil {
		return 0, false, nil
	}
	n, ok := toNumber(v)
	if !ok {
		return 0, false, domain.Ef(domain.KindValidation, "field %s: not numeric", key)
	}
	if n < min || n > max {
		return 0, false, domain.Ef(domain.KindValidation, "field %s: %v out of range [%v, %v]", key, n, min, max)
	}
	return n, true, nil
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func feeInfo(v any) domain.FeeInfo {
	m, ok := v.(map[string]any)
	if !ok {
		return domain.FeeInfo{}
	}
	var fees domain.FeeInfo
	if n, ok := toNumber(m["application_fee"]); ok {
		fees.ApplicationFee = n
	}
	if n, ok := toNumber(m["admin_fee_amount"]); ok {
		fees.AdminFeeAmount = n
	}
	if b, ok := m["admin_fee_waived"].(bool); ok {
		fees.AdminFeeWaived = b
	}
	return fees
}
