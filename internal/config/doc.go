// Package config loads, normalizes, and validates Cadence configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CADENCE_STUDIO_TOKEN. The Config type centralizes every static knob the
// daemon and CLI need. Runtime-mutable automation settings (enabled flag,
// poll interval, retry budget) live in the database instead; see the catalog
// package.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
