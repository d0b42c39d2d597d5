package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key this package writes.
const KeyPrefix = "jira:cache"

// CacheKey identifies a cached Jira response.
type CacheKey struct {
	// Endpoint is the request path (e.g., "/rest/api/3/search/jql")
	Endpoint string

	// QueryParams are the query parameters (e.g., {"jql": "project = OPS"})
	QueryParams url.Values

	// Principal is a fingerprint of the credentials, so users never share entries.
	// Empty for anonymous requests.
	Principal string
}

// String generates a deterministic cache key string.
// Format: jira:cache:endpoint:query1=val1:query2=val2:as=principal
//
// Example:
//
//	jira:cache:rest/api/3/search/jql:fields=id,key:jql=project = OPS:maxResults=50:as=3f2a9c
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Sorted for determinism; repeated values are kept in order.
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.QueryParams[key], ",")))
		}
	}

	if k.Principal != "" {
		parts = append(parts, "as="+k.Principal)
	}

	return strings.Join(parts, ":")
}
