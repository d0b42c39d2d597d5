// Package cache provides Jira response caching with a Redis backend.
//
// The cache manager keeps search pages and other GET responses so repeated
// queries do not hit the instance again:
//
// - Freshness from Cache-Control max-age or Expires, else a configured TTL
// - Stale entries retained for revalidation with If-None-Match / If-Modified-Since
// - Keys scoped per principal, so users never see each other's results
// - Prometheus metrics for observability
// - Deterministic cache key generation
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Endpoint:    "/rest/api/3/search/jql",
//		QueryParams: url.Values{"jql": []string{"project = OPS"}},
//		Principal:   "3f2a9c",
//	}
//
//	entry, err := manager.Get(ctx, key)
//	switch {
//	case errors.Is(err, cache.ErrCacheMiss):
//		// fetch from Jira
//	case entry.IsExpired():
//		// revalidate
//	default:
//		// serve entry.Data
//	}
//
// # HTTP Response Caching
//
//	entry, err := cache.ResponseToEntry(resp, 5*time.Minute)
//	if err != nil {
//		return err
//	}
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Conditional Requests
//
//	if entry.IsExpired() && cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//		// a 304 means the entry is still current: manager.UpdateTTL
//	}
//
// # Metrics
//
//   - jira_cache_hits_total{layer="redis"} - Fresh cache hits
//   - jira_cache_misses_total - Misses, including stale entries
//   - jira_cache_size_bytes{layer="redis"} - Bytes written
//   - jira_conditional_requests_total - Revalidation requests sent
//   - jira_304_responses_total - Revalidations answered with 304
//   - jira_cache_errors_total{operation} - Cache operation errors
package cache
