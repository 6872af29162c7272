// Package config loads, normalizes, and validates stockpile configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, pulls secrets from .env files and the
// environment (LLM_API_KEY, AWS_ACCESS_KEY_ID, NTFY_TOPIC), and validates the
// result with struct tags plus cross-field rules. The Config type centralizes
// every knob the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical log formats, and clear validation errors.
package config
