package smtp

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

// MXCacheTTL is how long a resolved mail exchanger is reused.
const MXCacheTTL = time.Hour

// Resolver is the DNS surface used for MX resolution. *net.Resolver
// satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// knownMX short-circuits DNS for large providers.
var knownMX = map[string]string{
	"gmail.com":      "gmail-smtp-in.l.google.com",
	"googlemail.com": "gmail-smtp-in.l.google.com",
	"outlook.com":    "outlook-com.olc.protection.outlook.com",
	"hotmail.com":    "hotmail-com.olc.protection.outlook.com",
	"yahoo.com":      "mta5.am0.yahoodns.net",
	"aol.com":        "mx-aol.mail.gm0.yahoodns.net",
	"icloud.com":     "mx01.mail.icloud.com",
	"me.com":         "mx01.mail.icloud.com",
	"protonmail.com": "mail.protonmail.ch",
	"proton.me":      "mail.protonmail.ch",
}

// conventionalHosts are tried in order when a domain publishes no MX.
func conventionalHosts(domain string) []string {
	return []string{
		"mail." + domain,
		"mx." + domain,
		"smtp." + domain,
		"mx1." + domain,
		"mx2." + domain,
		"aspmx.l.google.com",
	}
}

type mxEntry struct {
	host     string
	cachedAt time.Time
}

// mxCache maps a domain to its resolved exchanger for the process lifetime.
type mxCache struct {
	mu      sync.Mutex
	entries map[string]mxEntry
	now     func() time.Time
}

func newMXCache(now func() time.Time) *mxCache {
	return &mxCache{entries: make(map[string]mxEntry), now: now}
}

func (c *mxCache) get(domain string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[domain]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.cachedAt) > MXCacheTTL {
		delete(c.entries, domain)
		return "", false
	}
	return e.host, true
}

func (c *mxCache) put(domain, host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domain] = mxEntry{host: host, cachedAt: c.now()}
}

// ResolveMX returns the mail exchanger for domain: cached value, known
// provider, MX record, conventional hostname, and finally the domain itself
// when it has an address record.
func (c *Client) ResolveMX(ctx context.Context, domain string) (string, error) {
	if host, ok := c.mx.get(domain); ok {
		mxLookupsTotal.WithLabelValues("cache").Inc()
		return host, nil
	}

	host, source, err := c.lookupMX(ctx, domain)
	if err != nil {
		mxLookupsTotal.WithLabelValues("none").Inc()
		return "", err
	}
	mxLookupsTotal.WithLabelValues(source).Inc()
	c.mx.put(domain, host)
	c.log.Debug("mail exchanger resolved", "domain", domain, "host", host, "source", source)
	return host, nil
}

func (c *Client) lookupMX(ctx context.Context, domain string) (string, string, error) {
	if host, ok := knownMX[domain]; ok {
		return host, "known", nil
	}

	if records, err := c.resolver.LookupMX(ctx, domain); err == nil && len(records) > 0 {
		sort.SliceStable(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })
		for _, mx := range records {
			if host := strings.TrimSuffix(mx.Host, "."); host != "" {
				return host, "mx", nil
			}
		}
	}

	for _, host := range conventionalHosts(domain) {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		if addrs, err := c.resolver.LookupHost(ctx, host); err == nil && len(addrs) > 0 {
			return host, "conventional", nil
		}
	}

	if addrs, err := c.resolver.LookupHost(ctx, domain); err == nil && len(addrs) > 0 {
		return domain, "a", nil
	}
	return "", "", fmt.Errorf("%s: %w", domain, ErrNoMX)
}
