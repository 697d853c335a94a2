// Package security validates untrusted input reaching the browser and
// keeps secrets out of logs.
package security

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URL validation errors.
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrBlockedScheme    = errors.New("URL scheme not allowed")
	ErrPrivateIPBlocked = errors.New("private/internal IP addresses are not allowed")
	ErrLocalhostBlocked = errors.New("localhost URLs are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata URLs are not allowed")
)

var metadataHosts = map[string]bool{
	"metadata.google.internal": true,
	"metadata":                 true,
	"instance-data":            true,
}

var metadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"),
	net.ParseIP("169.254.170.2"),
	net.ParseIP("100.100.100.200"),
	net.ParseIP("192.0.0.192"),
	net.ParseIP("fd00:ec2::254"),
}

// URLPolicy decides which pages a session may open.
type URLPolicy struct {
	// AllowPrivate permits loopback and private networks, for theming
	// locally served pages. Metadata endpoints stay blocked.
	AllowPrivate bool
	// Resolver looks up hostnames; nil uses net.DefaultResolver.
	Resolver *net.Resolver
}

// ValidateURL checks rawURL against the default policy.
func ValidateURL(ctx context.Context, rawURL string) error {
	return URLPolicy{}.Check(ctx, rawURL)
}

// Check returns an error if rawURL is not an http(s) URL or points at an
// address the policy blocks. Hostnames are resolved and every address is
// checked; lookup failures are left for the browser to report.
func (p URLPolicy) Check(ctx context.Context, rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrBlockedScheme
	}
	if u.Host == "" {
		return ErrInvalidURL
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if metadataHosts[host] {
		return ErrMetadataBlocked
	}
	if isLocalhostName(host) && !p.AllowPrivate {
		return ErrLocalhostBlocked
	}

	if ip := parseLooseIP(host); ip != nil {
		return p.checkIP(ip)
	}

	r := p.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if err := p.checkIP(a.IP); err != nil {
			return err
		}
	}
	return nil
}

func (p URLPolicy) checkIP(ip net.IP) error {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	for _, m := range metadataIPs {
		if ip.Equal(m) {
			return ErrMetadataBlocked
		}
	}
	if p.AllowPrivate {
		return nil
	}
	switch {
	case ip.IsLoopback():
		return ErrLocalhostBlocked
	case ip.IsPrivate(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(), ip.IsUnspecified():
		return ErrPrivateIPBlocked
	}
	return nil
}

func isLocalhostName(host string) bool {
	switch host {
	case "localhost", "localhost.localdomain", "ip6-localhost", "ip6-loopback":
		return true
	}
	return strings.HasSuffix(host, ".localhost")
}

// parseLooseIP accepts the address spellings browsers accept: dotted
// quads with octal or hex parts, a single 32-bit number and the a.b short
// form.
func parseLooseIP(host string) net.IP {
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return ip
	}
	parts := strings.Split(host, ".")
	nums := make([]uint64, len(parts))
	for i, part := range parts {
		n, err := parseNumber(part)
		if err != nil {
			return nil
		}
		nums[i] = n
	}

	var v uint64
	switch len(nums) {
	case 1:
		v = nums[0]
	case 2:
		if nums[0] > 0xff || nums[1] > 0xffffff {
			return nil
		}
		v = nums[0]<<24 | nums[1]
	case 4:
		for _, n := range nums {
			if n > 0xff {
				return nil
			}
			v = v<<8 | n
		}
	default:
		return nil
	}
	if v > 0xffffffff {
		return nil
	}
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func parseNumber(s string) (uint64, error) {
	switch {
	case s == "":
		return 0, strconv.ErrSyntax
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		return strconv.ParseUint(s[2:], 16, 64)
	case len(s) > 1 && s[0] == '0':
		return strconv.ParseUint(s[1:], 8, 64)
	default:
		return strconv.ParseUint(s, 10, 64)
	}
}
