// Package model defines the entities collected by d2crawl.
//
// This package contains the following main types:
//   - GuardianID: The (membership id, membership type, character id) identity
//   - Guardian: A player character with its all-time PvP aggregates
//   - Activity: A finished PvP match reduced from its post game carnage report
//   - Participant: One roster entry of an Activity
//
// Identities are plain comparable values so they can be used as map keys and
// dedup keys without conversion. The models serialize to JSON for the store's
// roster column and for archive chunks.
package model
