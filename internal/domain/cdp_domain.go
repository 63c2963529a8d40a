package domain

import (
	"fmt"
	"strings"
)

// Domain is a CDP namespace the bridge knows how to manage.
// The value is the exact protocol spelling.
type Domain string

const (
	Network       Domain = "Network"
	Runtime       Domain = "Runtime"
	Page          Domain = "Page"
	DOM           Domain = "DOM"
	Console       Domain = "Console"
	Performance   Domain = "Performance"
	Security      Domain = "Security"
	Accessibility Domain = "Accessibility"
	HeapProfiler  Domain = "HeapProfiler"
	Profiler      Domain = "Profiler"
	DOMDebugger   Domain = "DOMDebugger"
	ServiceWorker Domain = "ServiceWorker"
	Fetch         Domain = "Fetch"
	Input         Domain = "Input"
	Memory        Domain = "Memory"
)

// All lists every managed domain in a stable order.
var All = []Domain{
	Page, DOM, Input, Network, Runtime, Console,
	Performance, Security, Accessibility, DOMDebugger,
	Fetch, ServiceWorker, Profiler, Memory, HeapProfiler,
}

func (d Domain) String() string { return string(d) }

// Valid reports whether d belongs to the managed set.
func (d Domain) Valid() bool {
	for _, x := range All {
		if x == d {
			return true
		}
	}
	return false
}

// ParseDomain resolves a protocol domain name. Matching is exact first and
// case-insensitive as a fallback so that query strings like "dom" work.
func ParseDomain(s string) (Domain, error) {
	s = strings.TrimSpace(s)
	for _, d := range All {
		if string(d) == s {
			return d, nil
		}
	}
	for _, d := range All {
		if strings.EqualFold(string(d), s) {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

// SplitMethod splits "Network.requestWillBeSent" into its domain prefix and name.
// The domain part is returned verbatim even when it is not a managed domain.
func SplitMethod(method string) (string, string) {
	i := strings.IndexByte(method, '.')
	if i <= 0 {
		return "", method
	}
	return method[:i], method[i+1:]
}

// FromMethod returns the managed domain a protocol method belongs to,
// or "" and false when the namespace is not managed.
func FromMethod(method string) (Domain, bool) {
	prefix, _ := SplitMethod(method)
	d := Domain(prefix)
	if !d.Valid() {
		return "", false
	}
	return d, true
}
