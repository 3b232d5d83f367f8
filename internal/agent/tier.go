package agent

import "strings"

// ModelTier classifies decision-maker models for prompt adaptation.
// Small models get the compact prompt and answer in plain text instead of
// tool calls.
type ModelTier string

const (
	TierSmall ModelTier = "small"
	TierLarge ModelTier = "large"
)

// ResolveTier returns the tier named in a provider's options ("tier"),
// defaulting to TierLarge.
func ResolveTier(options map[string]any) ModelTier {
	if v, ok := options["tier"].(string); ok && ModelTier(strings.ToLower(v)) == TierSmall {
		return TierSmall
	}
	return TierLarge
}
