// Package config handles configuration loading for olymp-desk.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from OLYMP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/olymp-desk/desk.yaml
//  3. ~/.config/olymp-desk/desk.yaml
//
// # Environment Variables
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	matrix:
//	  access_token: "${DESK_MATRIX_TOKEN}"
//
// A few settings are also read directly from the environment after the
// file is parsed, and win over it when set:
//
//	OLYMP_MATRIX_TOKEN   matrix.access_token
//	OLYMP_DATABASE_URL   database.url
//	OLYMP_STAFF_IDS      access.staff_ids, space separated
//	OLYMP_SUPERUSER_ID   access.superuser_id
//
// # Configuration Sections
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@desk:example.org"
//	  access_token: "${DESK_MATRIX_TOKEN}"
//	  device_id: "DESK"
//	  encryption: true
//	  recovery_key: ""
//	  data_dir: "~/.local/share/olymp-desk"
//
//	database:
//	  driver: "sqlite"     # or "postgres"
//	  path: "desk.db"
//	  url: ""
//
//	desk:
//	  album_window: "500ms"    # quiet period that closes a media burst
//	  broadcast_rate: "50ms"   # pause between broadcast sends
//	  agreement_path: "agreement.pdf"
//	  texts_path: ""           # TOML overrides for the message catalog
//	  alert_history: 10
//
//	access:
//	  staff_ids: [1001, 1002]
//	  superuser_id: 1000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text or json
//
// Durations use time.ParseDuration syntax. Unset durations are left zero
// and the desk falls back to its own defaults.
package config
