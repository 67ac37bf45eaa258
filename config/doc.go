// Package config loads and validates process configuration.
//
// Configuration is layered: compiled-in defaults, then an optional JSON
// file, then GPUKIT_* environment overrides. Load returns a validated
// Config; a Config that validates here will construct an engine.
//
// The Config's sections are plain JSON-friendly types. The *Config
// conversion methods (BudgetConfig, VectorConfig, ...) translate them into
// the strongly typed per-subsystem configs the constructors take, applying
// defaults for any field left zero.
//
// SafeConfig wraps a Config for concurrent access when the configuration
// can be swapped at runtime.
package config
