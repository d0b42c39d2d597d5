package pagination

// Continuation identifies how a page points at its successor.
type Continuation int

const (
	// ContinuationOffset pages are addressed by a numeric start offset.
	ContinuationOffset Continuation = iota

	// ContinuationToken pages are addressed by an opaque server-issued token.
	ContinuationToken
)

// String returns the continuation kind name.
func (c Continuation) String() string {
	switch c {
	case ContinuationOffset:
		return "offset"
	case ContinuationToken:
		return "token"
	default:
		return "unknown"
	}
}

// Page is one decoded response page.
type Page[T any] struct {
	// Items in server order.
	Items []T

	// Total is the server's total hit count. Only meaningful when HasTotal is set.
	Total    int
	HasTotal bool

	// IsLast is authoritative: a further fetch would return no new items.
	IsLast bool

	// Continuation tells the cursor which of the fields below carries position.
	Continuation Continuation

	// StartAt is the offset of the first item (offset pages).
	StartAt int

	// NextToken is the token for the following page (token pages).
	// Always empty when IsLast is set.
	NextToken string
}

// Cursor is the pagination state of one in-flight search.
// It is owned by exactly one Driver.
type Cursor struct {
	// Fetched is the cumulative number of items decoded so far.
	Fetched int

	// Pages is the number of pages decoded so far.
	Pages int

	// StartAt is the offset of the last offset page seen.
	StartAt int

	// Token is the continuation token of the last token page seen.
	// Empty before the first page.
	Token string

	// Total is the server's total hit count from the latest page that carried
	// one. Only meaningful when HasTotal is set.
	Total    int
	HasTotal bool

	// Done is set once the last page has been decoded.
	Done bool
}
