package store

// Config holds configuration for the Store.
type Config struct {
	// TableName is the single table holding users, emails and guards.
	// Default: "dev-user-service"
	TableName string

	// IndexName is the secondary index keyed by normalized email.
	// Default: "GSI1"
	IndexName string
}

// DefaultConfig returns the defaults used by local and dev stages.
func DefaultConfig() Config {
	return Config{
		TableName: "dev-user-service",
		IndexName: "GSI1",
	}
}

// validate fills in defaults for empty values.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "dev-user-service"
	}
	if c.IndexName == "" {
		c.IndexName = "GSI1"
	}
}
