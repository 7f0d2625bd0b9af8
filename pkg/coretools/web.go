package coretools

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rasyid/kantor/internal/config"
	"github.com/rasyid/kantor/pkg/toolexecutor"
)

const (
	webUserAgent    = "KantorAgent/1.0"
	webAcceptHeader = "text/html,application/json,text/plain,application/xml;q=0.9,*/*;q=0.5"

	tlsRetryWarning = "TLS verify failed; fetch_web auto-retried with verify disabled."

	thinContentWarning = "The page has little readable text; it may be JS-rendered or an " +
		"anti-scraping page. Prefer the site's public API or a page with directly readable content."
	scriptPayloadWarning = "The fetched content looks like a script or anti-scraping response " +
		"rather than page text. Do not draw conclusions from it; prefer an official API or a directly readable page."
)

var binaryContentMarkers = []string{"application/octet-stream", "image/", "audio/", "video/"}

// fetchResponse is the outcome of one policy-checked GET.
type fetchResponse struct {
	status      int
	contentType string
	body        []byte
	truncated   bool
	tlsWarning  string
}

func fetchWebTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "fetch_web",
		Description: "Fetch web content from a URL for information lookup.",
		Category:    toolexecutor.CategoryWeb,
		Timeout:     35 * time.Second,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "url", Type: "string", Description: "http/https URL", Required: true},
			{Name: "max_chars", Type: "integer", Description: "Maximum chars to return", Minimum: floatPtr(512), Maximum: floatPtr(120000), Default: 24000},
			{Name: "timeout_sec", Type: "integer", Description: "Timeout in seconds", Minimum: floatPtr(3), Maximum: floatPtr(30), Default: 12},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			rawURL := stringParam(params, "url", "")
			maxChars := intParam(params, "max_chars", 24000)
			timeoutSec := clampInt(intParam(params, "timeout_sec", 12), 3, 30)

			limit := fetchLimit(maxChars, opts.Tools.Web)

			resp, failure := fetchURL(ctx, opts.Tools.Web, rawURL, int64(limit), time.Duration(timeoutSec)*time.Second, "fetch_web")
			if failure != nil {
				return failure, nil
			}

			if isBinaryContentType(resp.contentType) {
				payload := map[string]interface{}{
					"ok":                 true,
					"url":                rawURL,
					"status":             resp.status,
					"content_type":       resp.contentType,
					"binary":             true,
					"size_preview_bytes": len(resp.body),
					"truncated":          resp.truncated,
				}
				addWarning(payload, resp.tlsWarning)
				return payload, nil
			}

			text := string(resp.body)
			if looksLikeHTML(resp.contentType, text) {
				extracted := extractHTMLText(text, limit)

				var warning string
				if len(strings.TrimSpace(extracted)) < 80 {
					warning = thinContentWarning
				}
				if looksLikeScriptPayload(extracted) {
					warning = joinWarnings(scriptPayloadWarning, warning)
				}
				warning = joinWarnings(resp.tlsWarning, warning)

				payload := map[string]interface{}{
					"ok":            true,
					"url":           rawURL,
					"status":        resp.status,
					"content_type":  resp.contentType,
					"binary":        false,
					"truncated":     resp.truncated,
					"content":       extracted,
					"length":        len(extracted),
					"source_format": "html_text_extracted",
				}
				addWarning(payload, warning)
				return payload, nil
			}

			payload := map[string]interface{}{
				"ok":           true,
				"url":          rawURL,
				"status":       resp.status,
				"content_type": resp.contentType,
				"binary":       false,
				"truncated":    resp.truncated,
				"content":      text,
				"length":       len(text),
			}
			addWarning(payload, resp.tlsWarning)
			return payload, nil
		},
	}
}

// fetchLimit combines the per-call request with the configured ceiling.
func fetchLimit(maxChars int, web config.WebConfig) int {
	limit := clampInt(maxChars, 512, 120000)
	if web.FetchMaxChars > 0 && limit > web.FetchMaxChars {
		limit = web.FetchMaxChars
	}
	if limit < 512 {
		limit = 512
	}
	return limit
}

// fetchURL runs the shared GET pipeline: URL validation, domain policy,
// TLS setup with one auto-retry on verification failure, HTTP status
// handling, and a size-capped body read. Policy violations and transport
// failures come back as ready-made error payloads.
func fetchURL(ctx context.Context, web config.WebConfig, rawURL string, limit int64, timeout time.Duration, toolName string) (*fetchResponse, map[string]interface{}) {
	parsed, err := parseRequestURL(rawURL)
	if err != nil {
		return nil, fail("%v", err)
	}

	host := parsed.Hostname()
	if !domainAllowed(host, web) {
		return nil, fail("Domain not allowed: %s. Allowed: %s", host, strings.Join(web.AllowedDomains, ", "))
	}

	tlsConfig, err := buildTLSConfig(web)
	if err != nil {
		return nil, fail("%v", err)
	}

	tlsWarning := ""
	resp, err := doGet(ctx, parsed.String(), tlsConfig, timeout)
	if err != nil {
		// Pragmatic fallback for enterprise TLS chains: when verification
		// fails and the user did not explicitly disable it, retry once
		// with verification off.
		if !web.SkipTLSVerify && isCertVerifyError(err) {
			tlsWarning = tlsRetryWarning
			resp, err = doGet(ctx, parsed.String(), &tls.Config{InsecureSkipVerify: true}, timeout)
		}
		if err != nil {
			return nil, fail("%s failed: %v", toolName, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 4000))
		return nil, map[string]interface{}{
			"ok":           false,
			"error":        fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			"body_preview": string(preview),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fail("%s failed: %v", toolName, err)
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}

	return &fetchResponse{
		status:      resp.StatusCode,
		contentType: strings.ToLower(resp.Header.Get("Content-Type")),
		body:        body,
		truncated:   truncated,
		tlsWarning:  tlsWarning,
	}, nil
}

func parseRequestURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("Invalid URL: %v", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("Only http/https URLs are supported")
	}
	if parsed.Host == "" || parsed.Hostname() == "" {
		return nil, fmt.Errorf("Invalid URL")
	}
	return parsed, nil
}

func domainAllowed(host string, web config.WebConfig) bool {
	if web.AllowAllDomains {
		return true
	}

	host = strings.Trim(strings.ToLower(host), ".")
	for _, allowed := range web.AllowedDomains {
		domain := strings.Trim(strings.ToLower(allowed), ".")
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func buildTLSConfig(web config.WebConfig) (*tls.Config, error) {
	if web.SkipTLSVerify {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	if web.CACertPath != "" {
		pem, err := os.ReadFile(web.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("Invalid web CA cert path: %s (%v)", web.CACertPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("Invalid web CA cert path: %s (no certificates found)", web.CACertPath)
		}
		return &tls.Config{RootCAs: pool}, nil
	}
	return nil, nil
}

func doGet(ctx context.Context, requestURL string, tlsConfig *tls.Config, timeout time.Duration) (*http.Response, error) {
	transport := &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment}
	client := &http.Client{Transport: transport, Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", webAcceptHeader)

	return client.Do(req)
}

func isCertVerifyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "x509") || strings.Contains(msg, "certificate")
}

func isBinaryContentType(contentType string) bool {
	for _, marker := range binaryContentMarkers {
		if strings.Contains(contentType, marker) {
			return true
		}
	}
	return false
}

func addWarning(payload map[string]interface{}, warning string) {
	if warning != "" {
		payload["warning"] = warning
	}
}

func joinWarnings(first, second string) string {
	switch {
	case first == "":
		return second
	case second == "":
		return first
	default:
		return first + " " + second
	}
}
