// Package application defines applications and the configuration keys they
// own.
package application

// Application is a registered client application. It owns configuration
// keys; deleting it removes the keys and their constraints.
type Application struct {
	ID   int64
	Name string
}

// ConfigurationKey is a named, typed setting of one application. Range and
// exclusion constraints attach to keys.
type ConfigurationKey struct {
	ID            int64
	ApplicationID int64
	Name          string
	Type          string
}
