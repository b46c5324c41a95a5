package importer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

var allowedImageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true,
}

var (
	errImageScheme    = errors.New("image url must use http or https")
	errImageExtension = errors.New("image url must end in png, jpg, jpeg, gif, webp or svg")
	errImageHost      = errors.New("image url points to a private or loopback address")
)

var carrierGradeNAT = netip.MustParsePrefix("100.64.0.0/10")

// HostResolver is satisfied by *net.Resolver.
type HostResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

const (
	hostCacheSize = 1024
	hostCacheTTL  = 5 * time.Minute
)

// hostVerdict is the cached outcome of resolving one image host.
type hostVerdict struct {
	internal   bool
	unresolved bool
}

type MediaChecker struct {
	resolver HostResolver
	timeout  time.Duration
	hosts    *expirable.LRU[string, hostVerdict]
	lookups  singleflight.Group
}

// NewMediaChecker checks image references. A nil resolver skips DNS and only
// rejects literal internal addresses. Resolved hosts are remembered for a few
// minutes so a file that repeats one image host resolves it once.
func NewMediaChecker(resolver HostResolver, timeout time.Duration) *MediaChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MediaChecker{
		resolver: resolver,
		timeout:  timeout,
		hosts:    expirable.NewLRU[string, hostVerdict](hostCacheSize, nil, hostCacheTTL),
	}
}

// Check returns an error for a rejected reference and a non-empty warning when
// the host could not be resolved.
func (c *MediaChecker) Check(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("image url %q is not a valid absolute url", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", errImageScheme
	}
	if !allowedImageExtensions[strings.ToLower(path.Ext(u.Path))] {
		return "", errImageExtension
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return "", errImageHost
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if isInternalAddr(addr) {
			return "", errImageHost
		}
		return "", nil
	}
	if c.resolver == nil {
		return "", nil
	}

	v := c.resolve(ctx, host)
	switch {
	case v.internal:
		return "", errImageHost
	case v.unresolved:
		return fmt.Sprintf("image host %s could not be resolved", host), nil
	}
	return "", nil
}

// resolve looks host up once per cache period. Concurrent rows asking for the
// same host share a single lookup.
func (c *MediaChecker) resolve(ctx context.Context, host string) hostVerdict {
	if v, ok := c.hosts.Get(host); ok {
		return v
	}
	res, _, _ := c.lookups.Do(host, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		addrs, err := c.resolver.LookupIPAddr(lookupCtx, host)
		v := hostVerdict{unresolved: err != nil}
		for _, a := range addrs {
			addr, ok := netip.AddrFromSlice(a.IP)
			if ok && isInternalAddr(addr.Unmap()) {
				v.internal = true
				break
			}
		}
		// A lookup cut short by the caller says nothing about the host.
		if ctx.Err() == nil {
			c.hosts.Add(host, v)
		}
		return v, nil
	})
	return res.(hostVerdict)
}

func isInternalAddr(a netip.Addr) bool {
	a = a.Unmap()
	return a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() ||
		a.IsUnspecified() || a.IsInterfaceLocalMulticast() || carrierGradeNAT.Contains(a)
}
