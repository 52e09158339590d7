// Package config loads, normalizes, and validates vampsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob the
// daemon and CLI need: where frame partitions live, how tightly the matcher
// pairs frames, when accumulated output flushes, and how finished partitions
// migrate between storage tiers.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, derived partition names, and clear validation errors.
package config
