// Package policy defines the per-identity safety policy document and its
// evaluation rules.
//
// The document is last-write-wins: the relay stores whatever the most recent
// policy_update or administrative push contained, with no merging and no
// version counter. Evaluation is strictly deny-biased — a scope or path that
// appears in both a forbidden and an allowed list is treated as forbidden.
package policy
