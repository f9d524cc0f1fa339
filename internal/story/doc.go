// Package story defines the published-story data model shared by the catalog,
// the unlock ledger and the access resolver.
//
// A daily cohort is the set of stories sharing one publish date. Each story
// has a zero-based ordinal position inside its cohort and the position alone
// decides the access tier:
//
//	0     free
//	1..3  rewarded ad
//	4     subscription
//
// Any other position is outside the lineup. The partition is a fixed policy
// constant, not something derived from stored data.
//
// Story IDs are content-addressed (see ID) so that publishing the same cohort
// twice yields the same identifiers.
package story
