// Package pricing holds the static feature cost table. Costs are owned
// by product configuration, not by the ledger: the ledger only sees an
// already-resolved amount.
package pricing

// Feature labels accepted by the deduct endpoint. They end up verbatim
// in the audit trail, so renaming one is a data migration.
const (
	FeatureTitleSuggest    = "ai.title_suggest"
	FeatureDescriptionGen  = "ai.description_generate"
	FeatureThumbnailScore  = "ai.thumbnail_score"
	FeatureSubtitleGen     = "ai.subtitle_generate"
	FeatureClipHighlights  = "ai.clip_highlights"
	FeatureHashtagSuggest  = "ai.hashtag_suggest"
	FeatureAudienceInsight = "ai.audience_insight"
)

var costs = map[string]int64{
	FeatureTitleSuggest:    1,
	FeatureDescriptionGen:  2,
	FeatureThumbnailScore:  3,
	FeatureSubtitleGen:     10,
	FeatureClipHighlights:  25,
	FeatureHashtagSuggest:  1,
	FeatureAudienceInsight: 5,
}

// Cost returns the credit cost for a feature label. ok is false for
// unknown features; callers must reject those before touching the ledger.
func Cost(feature string) (int64, bool) {
	c, ok := costs[feature]
	return c, ok
}
