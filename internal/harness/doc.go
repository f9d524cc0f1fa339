// Package harness runs reader scenarios against the access resolver.
//
// A scenario drives one user through a day's cohort: opening stories,
// watching ads, subscribing and lapsing, injecting collaborator outages and
// closing the screen. Every step runs against a real Session and Resolver
// over an in-memory SQLite store, so the trace is what the system actually
// did.
//
// # Scenario Format
//
//	name: ad_unlock_then_retap
//	description: "An earned ad unlocks the story for good"
//	date: "2024-01-01"
//	user: anon-1
//	subscribed: false
//	steps:
//	  - action: open
//	    position: 2
//	    expect: { outcome: require_ad }
//	  - action: ad
//	    position: 2
//	    result: earned
//	    expect: { outcome: reveal, method: ad }
//	assertions:
//	  - type: ledger_contains
//	    position: 2
//	    method: ad
//	  - type: ledger_count
//	    count: 1
//
// # Step Actions
//
//   - open: resolve the story at position
//   - ad: run a reward flow (result: earned, declined or error)
//   - subscribe / lapse: flip the user's entitlement
//   - fail / recover: inject or clear an outage (target: entitlement,
//     ledger_read or ledger_write)
//   - close: tear the session down
//   - reopen: start a fresh session on the same date
//
// # Assertion Types
//
//   - ledger_contains: an unlock exists for position (and method, if given)
//   - ledger_count: the ledger holds exactly count unlocks
//   - trace_count: action (with outcome, if given) appears exactly count times
//
// # Deterministic Testing
//
// Story IDs are content-addressed, the clock starts at 09:00 UTC on the
// scenario date and advances one minute per step, and background ledger
// writes are drained after every step. Identical scenarios produce
// byte-identical traces for golden comparison.
package harness
