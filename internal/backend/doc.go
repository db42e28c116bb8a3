// Package backend maps service names to backend base URLs and owns the
// pooled HTTP client used to reach them.
//
// The Registry holds an immutable snapshot that Load replaces atomically,
// so a configuration reload never disturbs requests already routed.
//
//	registry := backend.NewRegistry(logger)
//	if err := registry.Load(cfg.Services); err != nil {
//	    return err
//	}
//	base, ok := registry.Lookup("inventory")
package backend
