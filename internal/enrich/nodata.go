package enrich

// NoDataReason classifies a pass that produced no candidates.
type NoDataReason string

const (
	ReasonGbizNotFound            NoDataReason = "gbiz_not_found"
	ReasonAINoFieldResult         NoDataReason = "ai_no_field_result"
	ReasonNoOfficialSite          NoDataReason = "no_official_site"
	ReasonNameVariantInsufficient NoDataReason = "name_variant_insufficient"
	ReasonPrivateOrUndisclosed    NoDataReason = "private_or_undisclosed"
	ReasonRetryExhausted          NoDataReason = "retry_exhausted"
)

// RetryStrategy tags the company with a hint for the next pass.
type RetryStrategy string

const (
	StrategyNone                 RetryStrategy = "none"
	StrategyRelaxPrefecture      RetryStrategy = "relax_prefecture"
	StrategyNameVariantExpansion RetryStrategy = "name_variant_expansion"
	StrategyEnglishNameSearch    RetryStrategy = "english_name_search"
	StrategyOfficialSiteFocused  RetryStrategy = "official_site_focused"
)

// Classify decides why a pass came up empty and what to try next time.
// Rules are ordered; the first match wins.
func Classify(ec *Context) (NoDataReason, RetryStrategy) {
	bothRegistry404 := ec.RegistryInitial404 && ec.RegistryRetry404

	switch {
	case bothRegistry404 && len(ec.NameVariants) > 0:
		return ReasonNameVariantInsufficient, StrategyNameVariantExpansion
	case bothRegistry404 && ec.AIAttempted && len(ec.Findings) == 0:
		return ReasonAINoFieldResult, StrategyOfficialSiteFocused
	case ec.AIAttempted && ec.Website == "":
		return ReasonNoOfficialSite, StrategyEnglishNameSearch
	case ec.AIAttempted && (ec.RegistryRetry404 || ec.RegistryRetrySuccess):
		return ReasonPrivateOrUndisclosed, StrategyNone
	case ec.RegistryInitial404 || ec.RegistryFailed:
		return ReasonGbizNotFound, StrategyRelaxPrefecture
	default:
		return ReasonRetryExhausted, StrategyNone
	}
}
