//go:build ignore

// probe-agents.go checks that the portal's upstream dependencies answer:
// both Identus Cloud Agents, the blob store, and the portal itself.
//
// Endpoints come from the same environment variables the portal reads.
// Run with: go run scripts/probe-agents.go
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

type target struct {
	name string
	url  string
}

func targets() []target {
	get := func(env, fallback string) string {
		if v := os.Getenv(env); v != "" {
			return v
		}
		return fallback
	}
	tenantURL := strings.TrimRight(get("AGENTS_TENANT_URL", "http://localhost:8000/cloud-agent"), "/")
	enterpriseURL := strings.TrimRight(get("AGENTS_ENTERPRISE_URL", "http://localhost:8100/cloud-agent"), "/")
	portalURL := strings.TrimRight(get("PORTAL_BASE_URL", "http://localhost:8080"), "/")

	out := []target{
		{"tenant-agent", tenantURL + "/_system/health"},
		{"enterprise-agent", enterpriseURL + "/_system/health"},
		{"portal", portalURL + "/healthz"},
	}
	if blobURL := os.Getenv("BLOBSTORE_URL"); blobURL != "" {
		out = append(out, target{"blob-store", strings.TrimRight(blobURL, "/") + "/health"})
	}
	return out
}

type result struct {
	name     string
	status   int
	bodySnip string
	err      string
	latency  time.Duration
}

func probe(t target, client *http.Client) result {
	start := time.Now()
	resp, err := client.Get(t.url)
	latency := time.Since(start)
	if err != nil {
		msg := err.Error()
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		return result{name: t.name, err: msg, latency: latency}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	snip := strings.TrimSpace(string(body))
	if len(snip) > 80 {
		snip = snip[:80] + "…"
	}
	return result{name: t.name, status: resp.StatusCode, bodySnip: snip, latency: latency}
}

func main() {
	client := &http.Client{Timeout: 8 * time.Second}
	ts := targets()

	results := make([]result, len(ts))
	var wg sync.WaitGroup
	for i, t := range ts {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			results[i] = probe(t, client)
		}(i, t)
	}
	wg.Wait()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tLATENCY\tRESPONSE")
	failed := 0
	for _, r := range results {
		if r.err != "" {
			failed++
			fmt.Fprintf(w, "%s\tDOWN\t%s\t%s\n", r.name, r.latency.Round(time.Millisecond), r.err)
			continue
		}
		if r.status != http.StatusOK {
			failed++
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.name, r.status, r.latency.Round(time.Millisecond), r.bodySnip)
	}
	w.Flush()

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "\n%d target(s) unhealthy\n", failed)
		os.Exit(1)
	}
}
