// Package storage persists everything the pipeline must remember between
// passes and process restarts: per-source fingerprints, the subscriber
// directory, and idempotency tokens for the HTTP trigger.
//
// The fingerprint swap is a compare-and-set on the previously stored value
// so two overlapping passes cannot both claim the same change.
package storage
