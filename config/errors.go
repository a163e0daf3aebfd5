package config

// ConfigurationError reports invalid server options. It is returned by
// Builder.Build before any resource (port, directory, process) is acquired.
type ConfigurationError struct {
	Field string // Offending field, e.g. "DatabaseNames".
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return "config: " + e.Msg
}
