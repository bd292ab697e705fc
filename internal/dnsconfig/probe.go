package dnsconfig

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// ProbeResolver sends a single A query to the candidate resolver and
// waits for any well-formed answer. It rejects obviously dead servers
// before they are committed to interfaces; callers treat failures as
// advisory only.
func ProbeResolver(server string, timeout time.Duration) error {
	if net.ParseIP(server) == nil {
		return fmt.Errorf("%q is not a valid IP address", server)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn("example.com"), dns.TypeA)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: timeout}
	resp, _, err := client.Exchange(msg, net.JoinHostPort(server, "53"))
	if err != nil {
		return fmt.Errorf("resolver %s did not answer: %v", server, err)
	}
	if resp == nil {
		return fmt.Errorf("resolver %s returned an empty response", server)
	}
	return nil
}
