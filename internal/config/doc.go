// Package config provides configuration loading and validation for the audio
// echo bridge. YAML is the primary format; files ending in .toml are decoded
// as TOML. Values missing from the file keep their defaults.
package config
