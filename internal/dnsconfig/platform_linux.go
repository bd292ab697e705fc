//go:build linux

package dnsconfig

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// linuxPlatform prefers resolvectl (systemd-resolved) and falls back to
// rewriting /etc/resolv.conf on legacy systems.
type linuxPlatform struct{}

func newPlatform() Platform {
	return &linuxPlatform{}
}

func (p *linuxPlatform) ListInterfaces() ([]string, error) {
	interfaces, err := psnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate interfaces: %v", err)
	}

	var names []string
	for _, iface := range interfaces {
		up, loopback := false, false
		for _, flag := range iface.Flags {
			switch flag {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}
		if up && !loopback {
			names = append(names, iface.Name)
		}
	}
	return names, nil
}

func (p *linuxPlatform) GetDNS(iface string) ([]string, error) {
	if p.hasResolvectl() {
		return p.resolvectlDNS(iface)
	}
	return p.resolvConfDNS()
}

func (p *linuxPlatform) SetDNS(iface string, servers []string) error {
	if p.hasResolvectl() {
		args := append([]string{"dns", iface}, servers...)
		if output, err := exec.Command("resolvectl", args...).CombinedOutput(); err != nil {
			return fmt.Errorf("resolvectl failed for %s: %s", iface, strings.TrimSpace(string(output)))
		}
		return nil
	}
	return p.writeResolvConf(servers)
}

func (p *linuxPlatform) ResetDNS(iface string) error {
	if p.hasResolvectl() {
		if output, err := exec.Command("resolvectl", "revert", iface).CombinedOutput(); err != nil {
			return fmt.Errorf("resolvectl revert failed for %s: %s", iface, strings.TrimSpace(string(output)))
		}
		return nil
	}
	// Without systemd-resolved there is no notion of per-interface
	// automatic DNS; leave resolv.conf for the DHCP client to refresh.
	return nil
}

func (p *linuxPlatform) HostsPath() string {
	return "/etc/hosts"
}

func (p *linuxPlatform) CheckPrivilege() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("hostguard must run as root to modify DNS and hosts settings")
	}
	return nil
}

func (p *linuxPlatform) hasResolvectl() bool {
	_, err := exec.LookPath("resolvectl")
	return err == nil
}

func (p *linuxPlatform) resolvectlDNS(iface string) ([]string, error) {
	output, err := exec.Command("resolvectl", "dns", iface).Output()
	if err != nil {
		return nil, fmt.Errorf("resolvectl dns failed for %s: %v", iface, err)
	}

	// Output looks like "Link 2 (eth0): 1.1.1.1 8.8.8.8".
	text := strings.TrimSpace(string(output))
	if i := strings.Index(text, ":"); i >= 0 {
		text = strings.TrimSpace(text[i+1:])
	}
	if text == "" {
		return nil, nil
	}
	return strings.Fields(text), nil
}

func (p *linuxPlatform) resolvConfDNS() ([]string, error) {
	data, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		return nil, err
	}

	var servers []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "nameserver ") {
			servers = append(servers, strings.TrimSpace(strings.TrimPrefix(line, "nameserver ")))
		}
	}
	return servers, nil
}

func (p *linuxPlatform) writeResolvConf(servers []string) error {
	var b strings.Builder
	b.WriteString("# Generated by hostguard\n")
	for _, s := range servers {
		fmt.Fprintf(&b, "nameserver %s\n", s)
	}
	return os.WriteFile("/etc/resolv.conf", []byte(b.String()), 0o644)
}
