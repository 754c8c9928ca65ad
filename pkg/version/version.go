// Package version provides version information for the pricefeed application.
package version

// Version is the current version of the pricefeed application.
const Version = "0.3.1"

// AgentString returns the full agent string with versioning.
// Format: @feedforge/pricefeed@v{version}
func AgentString() string {
	return "@feedforge/pricefeed@v" + Version
}
