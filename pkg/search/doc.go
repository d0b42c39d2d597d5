// Package search runs paginated searches against both generations of the
// Jira search API and decodes them into one page shape.
//
// # Protocol Versions
//
// The legacy protocol (/rest/api/latest/search) pages by numeric offset and
// reports a total. The next protocol (/rest/api/3/search/jql) pages by opaque
// token and reports an explicit isLast flag. A Searcher resolves which one to
// speak once, from the host name, unless told explicitly:
//
//	*.atlassian.net (and configured suffixes) -> next
//	anything else                             -> legacy
//
// # Field Selection
//
// Under the next protocol the server returns only ids unless fields are named,
// so an empty selection is replaced by the essential preset. Explicit field
// lists are sent as given on both protocols.
//
//	preset     fields
//	minimal    id
//	essential  id, self, key, fields
//	standard   id, self, key, fields, summary, status, assignee, reporter, created, updated
//	all        *all
//
// # Usage
//
//	s, err := search.NewSearcher(search.Config{
//	    BaseURL: "https://acme.atlassian.net",
//	    Awaiter: search.Blocking(jiraClient),
//	}, issues.Endpoint{})
//
//	// Eager
//	all, err := s.List(ctx, "project = OPS", search.Options{})
//
//	// Lazy
//	it := s.Stream("project = OPS", search.Options{Fields: search.UsePreset(search.PresetStandard)})
//	for issue, err := range it.Seq(ctx) {
//	    ...
//	}
//
// Pages are fetched strictly one after another. Errors are never retried here;
// retries belong to the transport.
package search
