// Package dnsconfig applies desired DNS servers to active network
// interfaces, backing up the pre-change settings exactly once so a full
// revert always restores the true pre-install state. OS specifics live
// behind the Platform interface with per-OS implementations selected at
// build time.
package dnsconfig

import (
	"fmt"
	"strings"
)

// Platform abstracts the OS-level primitives the configurator needs:
// interface enumeration, per-interface DNS get/set, and the hosts file
// location.
type Platform interface {
	// ListInterfaces returns the names of active, non-loopback network
	// interfaces.
	ListInterfaces() ([]string, error)

	// GetDNS returns the DNS servers configured on an interface. An empty
	// slice means automatic (DHCP-supplied) DNS.
	GetDNS(iface string) ([]string, error)

	// SetDNS sets explicit DNS servers on an interface.
	SetDNS(iface string, servers []string) error

	// ResetDNS returns an interface to automatic DNS.
	ResetDNS(iface string) error

	// HostsPath returns the platform hosts file location.
	HostsPath() string

	// CheckPrivilege returns an error when the process lacks the
	// privilege needed to mutate network configuration.
	CheckPrivilege() error
}

// NewPlatform returns the Platform implementation for the build target.
func NewPlatform() Platform {
	return newPlatform()
}

// PartialFailureError aggregates per-interface apply failures. Network
// adapters are independent resources, so a failure on one does not roll
// back the others; callers log the partial success and retry next tick.
type PartialFailureError struct {
	Failed map[string]error
}

func (e *PartialFailureError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for iface := range e.Failed {
		names = append(names, iface)
	}
	return fmt.Sprintf("DNS apply failed on %d interface(s): %s", len(e.Failed), strings.Join(names, ", "))
}
