// Package config loads application configuration from AUTHCORE_* environment
// variables with sensible defaults and fail-fast validation.
package config
