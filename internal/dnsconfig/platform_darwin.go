//go:build darwin

package dnsconfig

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// darwinPlatform drives macOS network services through networksetup.
type darwinPlatform struct{}

func newPlatform() Platform {
	return &darwinPlatform{}
}

func (p *darwinPlatform) ListInterfaces() ([]string, error) {
	output, err := exec.Command("networksetup", "-listallnetworkservices").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list network services: %v", err)
	}

	lines := strings.Split(string(output), "\n")
	var services []string
	// First line is a header; services prefixed with "*" are disabled.
	for i := 1; i < len(lines); i++ {
		service := strings.TrimSpace(lines[i])
		if service == "" || strings.HasPrefix(service, "*") {
			continue
		}
		services = append(services, service)
	}
	return services, nil
}

func (p *darwinPlatform) GetDNS(iface string) ([]string, error) {
	output, err := exec.Command("networksetup", "-getdnsservers", iface).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get DNS for %s: %v", iface, err)
	}

	text := strings.TrimSpace(string(output))
	if strings.Contains(text, "There aren't any DNS Servers") {
		return nil, nil // DHCP
	}
	return strings.Split(text, "\n"), nil
}

func (p *darwinPlatform) SetDNS(iface string, servers []string) error {
	args := append([]string{"-setdnsservers", iface}, servers...)
	if output, err := exec.Command("networksetup", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to set DNS for %s: %s", iface, strings.TrimSpace(string(output)))
	}
	return nil
}

func (p *darwinPlatform) ResetDNS(iface string) error {
	if output, err := exec.Command("networksetup", "-setdnsservers", iface, "Empty").CombinedOutput(); err != nil {
		return fmt.Errorf("failed to reset DNS for %s: %s", iface, strings.TrimSpace(string(output)))
	}
	return nil
}

func (p *darwinPlatform) HostsPath() string {
	return "/etc/hosts"
}

func (p *darwinPlatform) CheckPrivilege() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("hostguard must run as root to modify DNS and hosts settings")
	}
	return nil
}
