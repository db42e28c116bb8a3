// Package config holds the gateway configuration model.
//
// Configuration is read from YAML with ${VAR} and ${VAR:-default}
// substitution applied first, unmarshaled over DefaultConfig, then checked
// by ValidateConfig which reports every problem at once as ValidationErrors.
//
//	cfg, err := config.LoadConfig("gateway.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    return err
//	}
//
// Watcher follows the file with fsnotify and hands each valid revision to
// a callback. The gateway uses it to swap its service map without a
// restart; listener, identity and observability settings are read once at
// startup.
package config
