// Package buildinfo carries build-time metadata that is not part of the
// user configuration.
package buildinfo

import "github.com/google/uuid"

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Context holds build-time metadata and the identity of this process.
type Context struct {
	version    string
	buildDate  string
	instanceID string
}

// NewContext returns a Context. An empty instanceID is replaced by a random
// UUID so every process reports a distinct identity.
func NewContext(version, buildDate, instanceID string) *Context {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return &Context{
		version:    version,
		buildDate:  buildDate,
		instanceID: instanceID,
	}
}

// Version returns the build version or UnknownValue.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build date or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// InstanceID returns the process identity or UnknownValue.
func (c *Context) InstanceID() string {
	if c == nil || c.instanceID == "" {
		return UnknownValue
	}
	return c.instanceID
}
