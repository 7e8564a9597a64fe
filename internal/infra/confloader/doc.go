// Package confloader loads server configuration and watches it for changes.
//
// Sources, from lowest to highest priority:
//
//  1. Values already present in the target struct (the defaults)
//  2. A YAML configuration file
//  3. Environment variables with the RELAYMESH_ prefix
//
// In environment variable names a double underscore separates sections and
// a single underscore stays part of the key, so
// RELAYMESH_RATE_LIMITER__REQUEST_COST sets rate_limiter.request_cost.
//
// The Watcher reports edits of a watched file, coalescing the bursts of
// events editors produce into one callback.
package confloader
