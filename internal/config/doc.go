// Package config provides configuration management for notebroker.
//
// Configuration is loaded from a single directory. The default directory is
// ~/.config/notebroker; commands accept --config-path to point elsewhere and
// NOTEBROKER_CONFIG_DIR overrides the default.
//
// # Configuration Directory
//
// The directory contains:
//   - config.yaml (optional; defaults apply when absent)
//   - credentials.enc (the encrypted session, written by the broker)
//
// # Example config.yaml
//
//	backend:
//	  baseURL: https://api.notebroker.dev
//	oauth:
//	  clientID: notebroker-cli
//	  preferredPort: 8765
//	  fallbackPorts: [8766, 8767, 8768]
//	  allowEphemeralPort: true
//	  timeout: 5m
//	  refreshBuffer: 24h
//	  providers:
//	    - name: google
//	      displayName: Google
//	    - name: microsoft
//	      displayName: Microsoft
//	      responseMode: form_post
//	usage:
//	  cacheTTL: 60s
//	logging:
//	  level: info
//
// Durations use Go duration strings.
//
// # Environment Overrides
//
// Applied after the file is read:
//
//	NOTEBROKER_BACKEND_URL     backend.baseURL
//	NOTEBROKER_CLIENT_ID       oauth.clientID
//	NOTEBROKER_CALLBACK_PORT   oauth.preferredPort
//	NOTEBROKER_APP_SECRET      storage.appSecret
//	NOTEBROKER_LOG_LEVEL       logging.level
//
// # Validation
//
// Validate reports every problem at once as a ValidationErrors value; the
// loader wraps it in a ConfigurationError that names the file.
package config
