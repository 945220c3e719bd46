// Package config loads, normalizes, and validates skein configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the SKEIN_FEED_DIR environment
// fallback. The Config type centralizes every knob the worker and CLI need:
// where snapshots live, how the worker is launched and polled, which feeds are
// subscribed, and the filters, sorts, and tag views built on top of them.
//
// Both sides of the worker link load the same file, so the filter and sort
// registry they derive from it is identical. Always obtain settings through
// this package so downstream code receives sanitized paths and clear
// validation errors.
package config
