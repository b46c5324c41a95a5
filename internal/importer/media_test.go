package importer

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := f[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func TestMediaCheck(t *testing.T) {
	checker := NewMediaChecker(fakeResolver{
		"cdn.example.com":      {"93.184.216.34"},
		"intranet.example.com": {"10.1.2.3"},
		"mixed.example.com":    {"93.184.216.34", "::ffff:127.0.0.1"},
	}, time.Second)

	tests := []struct {
		name     string
		url      string
		wantErr  error
		anyErr   bool
		wantWarn bool
	}{
		{name: "public", url: "https://cdn.example.com/img/graph.PNG"},
		{name: "resolves private", url: "https://intranet.example.com/a.png", wantErr: errImageHost},
		{name: "one private answer", url: "https://mixed.example.com/a.png", wantErr: errImageHost},
		{name: "unresolvable", url: "https://unknown.example.com/a.png", wantWarn: true},
		{name: "scheme", url: "ftp://cdn.example.com/a.png", wantErr: errImageScheme},
		{name: "extension", url: "https://cdn.example.com/a.bmp", wantErr: errImageExtension},
		{name: "localhost", url: "http://localhost/a.png", wantErr: errImageHost},
		{name: "internal suffix", url: "http://files.corp.internal/a.png", wantErr: errImageHost},
		{name: "loopback v6", url: "http://[::1]/a.png", wantErr: errImageHost},
		{name: "cgnat", url: "http://100.64.1.1/a.png", wantErr: errImageHost},
		{name: "metadata address", url: "http://169.254.169.254/a.png", wantErr: errImageHost},
		{name: "public literal", url: "http://8.8.8.8/a.png"},
		{name: "relative", url: "/uploads/a.png", anyErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			warn, err := checker.Check(context.Background(), tc.url)
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			case tc.anyErr:
				if err == nil {
					t.Fatalf("expected an error")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
			}
			if (warn != "") != tc.wantWarn {
				t.Fatalf("warning got=%q wantWarn=%v", warn, tc.wantWarn)
			}
		})
	}
}

type countingResolver struct {
	fakeResolver
	calls atomic.Int32
}

func (c *countingResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	c.calls.Add(1)
	return c.fakeResolver.LookupIPAddr(ctx, host)
}

func TestMediaCheckCachesHosts(t *testing.T) {
	resolver := &countingResolver{fakeResolver: fakeResolver{
		"cdn.example.com":      {"93.184.216.34"},
		"intranet.example.com": {"10.1.2.3"},
	}}
	checker := NewMediaChecker(resolver, time.Second)

	urls := []string{
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/b.png",
		"https://intranet.example.com/a.png",
		"https://CDN.example.com/c.png",
		"https://intranet.example.com/b.png",
		"https://gone.example.com/a.png",
		"https://gone.example.com/b.png",
	}
	for _, u := range urls {
		_, _ = checker.Check(context.Background(), u)
	}
	if got := resolver.calls.Load(); got != 3 {
		t.Fatalf("expected one lookup per host, got %d", got)
	}

	if _, err := checker.Check(context.Background(), "https://intranet.example.com/c.png"); !errors.Is(err, errImageHost) {
		t.Fatalf("cached private host must still be rejected, got %v", err)
	}
	if warn, _ := checker.Check(context.Background(), "https://gone.example.com/c.png"); warn == "" {
		t.Fatalf("cached unresolved host must still warn")
	}
}

func TestMediaCheckSkipsCacheOnCancel(t *testing.T) {
	resolver := &countingResolver{fakeResolver: fakeResolver{"cdn.example.com": {"93.184.216.34"}}}
	checker := NewMediaChecker(resolver, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = checker.Check(ctx, "https://cdn.example.com/a.png")
	_, _ = checker.Check(context.Background(), "https://cdn.example.com/a.png")
	if got := resolver.calls.Load(); got != 2 {
		t.Fatalf("a cancelled lookup should not be cached, got %d lookups", got)
	}
}
