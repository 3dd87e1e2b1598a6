// Package follow runs the follow campaign: it sweeps due unfollows, pulls
// suggested accounts, filters them against the ledger, follows the eligible
// ones under a daily quota with randomized pacing, and keeps itself alive
// through remote failures.
//
// All waiting goes through a Clock so the multi-hour sleeps the campaign
// relies on are cancellable and can be recorded in tests.
package follow
