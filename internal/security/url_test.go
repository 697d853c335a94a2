package security

import (
	"context"
	"errors"
	"net"
	"testing"
)

// offline resolves nothing so tests never touch the network.
var offline = &net.Resolver{
	PreferGo: true,
	Dial: func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("offline")
	},
}

func TestURLPolicyCheck(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want error
	}{
		{"public https", "https://example.com/page", nil},
		{"public ip", "http://93.184.216.34/", nil},
		{"empty", "", ErrInvalidURL},
		{"no host", "https:///path", ErrInvalidURL},
		{"file scheme", "file:///etc/passwd", ErrBlockedScheme},
		{"javascript", "javascript:alert(1)", ErrBlockedScheme},
		{"localhost", "http://localhost:8080/", ErrLocalhostBlocked},
		{"localhost subdomain", "http://app.localhost/", ErrLocalhostBlocked},
		{"loopback", "http://127.0.0.2/", ErrLocalhostBlocked},
		{"decimal loopback", "http://2130706433/", ErrLocalhostBlocked},
		{"octal loopback", "http://0177.0.0.1/", ErrLocalhostBlocked},
		{"hex loopback", "http://0x7f.0.0.1/", ErrLocalhostBlocked},
		{"short loopback", "http://127.1/", ErrLocalhostBlocked},
		{"ipv6 loopback", "http://[::1]/", ErrLocalhostBlocked},
		{"mapped loopback", "http://[::ffff:127.0.0.1]/", ErrLocalhostBlocked},
		{"private", "http://192.168.1.10/", ErrPrivateIPBlocked},
		{"link local", "http://169.254.1.1/", ErrPrivateIPBlocked},
		{"metadata ip", "http://169.254.169.254/latest", ErrMetadataBlocked},
		{"metadata host", "http://metadata.google.internal/", ErrMetadataBlocked},
	}

	p := URLPolicy{Resolver: offline}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Check(context.Background(), tt.url)
			if !errors.Is(err, tt.want) {
				t.Errorf("Check(%q) = %v, want %v", tt.url, err, tt.want)
			}
		})
	}
}

func TestURLPolicyAllowPrivate(t *testing.T) {
	p := URLPolicy{AllowPrivate: true, Resolver: offline}
	for _, u := range []string{"http://localhost:3000/", "http://10.0.0.5/", "http://[::1]/"} {
		if err := p.Check(context.Background(), u); err != nil {
			t.Errorf("Check(%q) = %v, want nil", u, err)
		}
	}
	if err := p.Check(context.Background(), "http://169.254.169.254/"); !errors.Is(err, ErrMetadataBlocked) {
		t.Errorf("metadata must stay blocked, got %v", err)
	}
}

func TestParseLooseIP(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1":     "127.0.0.1",
		"2130706433":    "127.0.0.1",
		"0x7f000001":    "127.0.0.1",
		"10.1":          "10.0.0.1",
		"0300.0250.0.1": "192.168.0.1",
	}
	for in, want := range tests {
		ip := parseLooseIP(in)
		if ip == nil || ip.String() != want {
			t.Errorf("parseLooseIP(%q) = %v, want %s", in, ip, want)
		}
	}
	for _, in := range []string{"example.com", "1.2.3", "256.0.0.1", "99999999999"} {
		if ip := parseLooseIP(in); ip != nil {
			t.Errorf("parseLooseIP(%q) = %v, want nil", in, ip)
		}
	}
}

func FuzzURLPolicyCheck(f *testing.F) {
	for _, seed := range []string{"https://example.com", "http://0x7f.1/", "http://[::ffff:10.0.0.1]/", "ftp://x"} {
		f.Add(seed)
	}
	p := URLPolicy{Resolver: offline}
	f.Fuzz(func(t *testing.T, raw string) {
		_ = p.Check(context.Background(), raw)
	})
}
