// Package config loads typed configuration from environment variables.
//
// Structs are annotated with caarlos0/env tags. An optional ./.env file is
// read once through godotenv before the first parse, parsed values are
// cached per type, and configs implementing Validator are checked before
// they are cached:
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config
