package domain

// FeeInfo carries the move-in fees reported on a listing page.
type FeeInfo struct {
	ApplicationFee float64
	AdminFeeAmount float64
	AdminFeeWaived bool
}

// ExtractionResult is the validated structured output for one crawl job.
// Raw extraction payloads that fail validation are never materialized as
// an ExtractionResult; they are recorded as a validation failure on the
// owning QueueJob instead.
type ExtractionResult struct {
	Name            string
	Address         string
	City            string
	State           string
	CurrentPrice    float64
	Bedrooms        float64
	Bathrooms       float64
	SquareFeet      float64
	Amenities       []string
	ConcessionTexts []string
	Fees            FeeInfo
}
