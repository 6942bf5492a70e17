// Package watch implements the change-detection pipeline: fetch a monitored
// page, reduce it to an ordered list of normalized link titles, fingerprint
// them, and compare against the last stored fingerprint. Preview building
// (the human-readable digest sent with a notification) re-fetches the page
// independently so a rendering bug can never affect change detection.
package watch
