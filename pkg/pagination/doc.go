// Package pagination drives sequential page fetches for paginated search endpoints.
//
// Both protocol generations of the search API chain their pages: an offset page must
// know how many items came before it, and a token page needs the token handed out by
// the previous response. Pages are therefore fetched strictly one after another and
// never prefetched.
//
// A Driver owns the Cursor for one logical search and moves through the states
//
//	Idle -> Fetching -> Decoding -> Idle -> ... -> Done
//	                 \-> Failed
//
// The same driver backs both consumption styles:
//
//	// Eager: collect every item, in server order.
//	items, err := pagination.Collect(ctx, pagination.NewDriver(fetcher, logger))
//
//	// Lazy: pull items one at a time; the next page is fetched only when
//	// the current page is used up.
//	it := pagination.NewIterator(pagination.NewDriver(fetcher, logger))
//	for it.Next(ctx) {
//		use(it.Item())
//	}
//	if err := it.Err(); err != nil {
//		// the search failed; the items seen so far are all there is
//	}
//
// Any fetch or decode error is terminal. Retrying belongs to the transport below.
package pagination
