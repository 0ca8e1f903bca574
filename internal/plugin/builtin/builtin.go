// Package builtin carries the handlers compiled into the daemon. Manifest
// entries bind to them by entry-point name; deployments that need more
// register their own handlers before applying the manifest.
package builtin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"IntelHive/internal/plugin"
)

// Entry-point names understood by this build.
const (
	EntryClassifyObservable = "builtin.classify_observable"
	EntryHashIdentifier     = "builtin.hash_identifier"
	EntryDNSLookup          = "builtin.dns_lookup"
	EntryDomainPivot        = "builtin.domain_pivot"
	EntryReportSummary      = "builtin.report_summary"
)

// RegisterAll installs every builtin handler into the registry.
func RegisterAll(registry *plugin.HandlerRegistry) error {
	handlers := map[string]plugin.Runnable{
		EntryClassifyObservable: plugin.RunnableFunc(classifyObservable),
		EntryHashIdentifier:     plugin.RunnableFunc(identifyHash),
		EntryDNSLookup:          plugin.RunnableFunc(lookupDNS),
		EntryDomainPivot:        plugin.RunnableFunc(pivotDomains),
		EntryReportSummary:      plugin.RunnableFunc(summarizeReport),
	}
	for name, handler := range handlers {
		if err := registry.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

var (
	domainPattern = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)
	hashPattern   = regexp.MustCompile(`^[a-fA-F0-9]+$`)
)

// classifyObservable labels the observable as ip, domain, url, hash or
// generic, the first triage step of most pipelines.
func classifyObservable(_ context.Context, inv plugin.Invocation) (plugin.Report, error) {
	observable := strings.TrimSpace(inv.Observable)
	classification := "generic"
	switch {
	case net.ParseIP(observable) != nil:
		classification = "ip"
	case strings.HasPrefix(observable, "http://") || strings.HasPrefix(observable, "https://"):
		classification = "url"
	case hashPattern.MatchString(observable) && isHashLength(len(observable)):
		classification = "hash"
	case domainPattern.MatchString(observable):
		classification = "domain"
	}
	return plugin.Report{Data: map[string]any{
		"observable":     observable,
		"classification": classification,
	}}, nil
}

func isHashLength(n int) bool {
	switch n {
	case 32, 40, 64, 128:
		return true
	}
	return false
}

// identifyHash names the digest algorithm behind a hash observable and
// records a normalised lowercase form plus a sha256 of the raw input for
// cross-referencing.
func identifyHash(_ context.Context, inv plugin.Invocation) (plugin.Report, error) {
	observable := strings.TrimSpace(inv.Observable)
	algorithm := ""
	switch len(observable) {
	case 32:
		algorithm = "md5"
	case 40:
		algorithm = "sha1"
	case 64:
		algorithm = "sha256"
	case 128:
		algorithm = "sha512"
	}
	if algorithm == "" || !hashPattern.MatchString(observable) {
		return plugin.Report{Errors: []string{fmt.Sprintf("%q does not look like a known digest", observable)}}, nil
	}
	sum := sha256.Sum256([]byte(strings.ToLower(observable)))
	return plugin.Report{Data: map[string]any{
		"algorithm":  algorithm,
		"normalized": strings.ToLower(observable),
		"lookup_key": hex.EncodeToString(sum[:]),
	}}, nil
}

// lookupDNS resolves a domain observable. The timeout parameter bounds the
// lookup independently of the task's soft time limit.
func lookupDNS(ctx context.Context, inv plugin.Invocation) (plugin.Report, error) {
	domain := strings.TrimSpace(inv.Observable)
	if !domainPattern.MatchString(domain) {
		return plugin.Report{Errors: []string{fmt.Sprintf("%q is not a domain", domain)}}, nil
	}
	timeout := 5 * time.Second
	if raw, ok := inv.Params["timeout_seconds"]; ok {
		switch v := raw.(type) {
		case int:
			timeout = time.Duration(v) * time.Second
		case float64:
			timeout = time.Duration(v) * time.Second
		}
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, domain)
	if err != nil {
		return plugin.Report{}, fmt.Errorf("resolve %s: %w", domain, err)
	}
	return plugin.Report{Data: map[string]any{
		"domain":    domain,
		"addresses": addrs,
	}}, nil
}

// pivotDomains extracts related domains from a URL observable so callers
// can feed them back as new jobs. Pivots are opportunistic; an observable
// with nothing to extract is a success with empty data.
func pivotDomains(_ context.Context, inv plugin.Invocation) (plugin.Report, error) {
	observable := strings.TrimSpace(inv.Observable)
	trimmed := strings.TrimPrefix(strings.TrimPrefix(observable, "https://"), "http://")
	host := trimmed
	if idx := strings.IndexAny(trimmed, "/?#"); idx >= 0 {
		host = trimmed[:idx]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	var related []string
	if domainPattern.MatchString(host) && host != observable {
		related = append(related, host)
		if parent := parentDomain(host); parent != "" {
			related = append(related, parent)
		}
	}
	return plugin.Report{Data: map[string]any{
		"related_domains": related,
	}}, nil
}

func parentDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return ""
	}
	return strings.Join(parts[1:], ".")
}

// summarizeReport renders a compact textual digest of the job for the
// visualizer stage.
func summarizeReport(_ context.Context, inv plugin.Invocation) (plugin.Report, error) {
	title := "analysis summary"
	if raw, ok := inv.Params["title"].(string); ok && raw != "" {
		title = raw
	}
	return plugin.Report{Data: map[string]any{
		"title":      title,
		"observable": inv.Observable,
		"job_id":     inv.JobID,
	}}, nil
}
