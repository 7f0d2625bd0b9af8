package coretools

import (
	"context"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rasyid/kantor/pkg/toolexecutor"
)

const (
	searchEndpoint    = "https://html.duckduckgo.com/html/"
	searchFetchLimit  = 400000
	searchTimeout     = 12 * time.Second
	maxSearchResults  = 10
	searchResultCount = 5
)

var (
	resultLinkPattern    = regexp.MustCompile(`(?s)<a[^>]*class="result__a"[^>]*>(.*?)</a>`)
	resultSnippetPattern = regexp.MustCompile(`(?s)<a[^>]*class="result__snippet"[^>]*>(.*?)</a>`)
	hrefPattern          = regexp.MustCompile(`href="([^"]+)"`)
)

func webSearchTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web and return result titles, URLs and snippets.",
		Category:    toolexecutor.CategoryWeb,
		Timeout:     35 * time.Second,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "count", Type: "integer", Description: "Number of results", Minimum: floatPtr(1), Maximum: floatPtr(10), Default: 5},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query := strings.TrimSpace(stringParam(params, "query", ""))
			count := clampInt(intParam(params, "count", searchResultCount), 1, maxSearchResults)

			if query == "" {
				return fail("query cannot be empty"), nil
			}

			requestURL := searchEndpoint + "?q=" + url.QueryEscape(query)
			resp, failure := fetchURL(ctx, opts.Tools.Web, requestURL, searchFetchLimit, searchTimeout, "web_search")
			if failure != nil {
				return failure, nil
			}

			results := parseSearchResults(string(resp.body), count)
			payload := map[string]interface{}{
				"ok":      true,
				"query":   query,
				"results": results,
				"count":   len(results),
			}
			addWarning(payload, resp.tlsWarning)
			return payload, nil
		},
	}
}

// parseSearchResults pulls {title, url, snippet} triples out of the
// DuckDuckGo HTML results page. Link and snippet anchors appear in the
// same document order, so they pair up by index.
func parseSearchResults(page string, count int) []map[string]interface{} {
	links := resultLinkPattern.FindAllStringSubmatch(page, -1)
	snippets := resultSnippetPattern.FindAllStringSubmatch(page, -1)

	results := make([]map[string]interface{}, 0, count)
	for i, link := range links {
		if len(results) >= count {
			break
		}

		title := flattenHTMLFragment(link[1])
		resultURL := ""
		if href := hrefPattern.FindStringSubmatch(link[0]); href != nil {
			resultURL = unwrapResultURL(href[1])
		}
		if title == "" || resultURL == "" {
			continue
		}

		snippet := ""
		if i < len(snippets) {
			snippet = flattenHTMLFragment(snippets[i][1])
		}

		results = append(results, map[string]interface{}{
			"title":   title,
			"url":     resultURL,
			"snippet": snippet,
		})
	}
	return results
}

// unwrapResultURL resolves DuckDuckGo's redirect links, which carry the
// real destination percent-encoded in a uddg parameter.
func unwrapResultURL(href string) string {
	href = html.UnescapeString(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func flattenHTMLFragment(fragment string) string {
	text := tagPattern.ReplaceAllString(fragment, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}
