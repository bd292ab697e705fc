//go:build !darwin && !linux

package dnsconfig

import "fmt"

type unsupportedPlatform struct{}

func newPlatform() Platform {
	return &unsupportedPlatform{}
}

func (p *unsupportedPlatform) ListInterfaces() ([]string, error) {
	return nil, fmt.Errorf("platform not supported")
}

func (p *unsupportedPlatform) GetDNS(string) ([]string, error) {
	return nil, fmt.Errorf("platform not supported")
}

func (p *unsupportedPlatform) SetDNS(string, []string) error {
	return fmt.Errorf("platform not supported")
}

func (p *unsupportedPlatform) ResetDNS(string) error {
	return fmt.Errorf("platform not supported")
}

func (p *unsupportedPlatform) HostsPath() string {
	return "/etc/hosts"
}

func (p *unsupportedPlatform) CheckPrivilege() error {
	return fmt.Errorf("platform not supported")
}
