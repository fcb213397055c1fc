// Package config provides configuration loading and validation for the
// dialect identification training pipeline. It handles YAML-based
// configuration with struct validation and environment overrides for
// tracker credentials.
package config
