package model

// NetworkNode is one ISL interface installed on a platform.
type NetworkNode struct {
	ID   string
	Name string

	// PlatformID links this node to a PlatformDefinition.
	PlatformID string

	// Profile names the terminal layout mounted on the interface.
	Profile string

	// Address is the link-layer address in colon-separated hex; empty means
	// allocate one.
	Address string
}
