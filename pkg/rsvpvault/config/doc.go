// Package config loads rsvpvault settings from files and the environment.
//
// Settings start from Default, are overlaid by a YAML or JSON file, and then
// by RSVPVAULT_* environment variables:
//
//	settings, err := config.Load("rsvpvault.yaml")
//	if err != nil {
//	    return err
//	}
//	st, err := config.OpenStore(ctx, settings.Store)
//
// A YAML file looks like:
//
//	default_name: Community meetup
//	default_deposit: 20
//	default_limit: 50
//	default_cooling_period: 168h
//	store:
//	  driver: sqlite
//	  sqlite_path: ./rsvpvault.db
//
// Durations accept Go duration strings ("90m") or integer seconds.
package config
