// Package issues is the issue resource for package search.
package issues

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/jira-search-client/pkg/search"
)

// Search paths and the envelope key that holds issues under both protocols.
const (
	LegacySearchPath = "/rest/api/latest/search"
	NextSearchPath   = "/rest/api/3/search/jql"
	ItemsKey         = "issues"
)

// TimeLayout is the timestamp format used in issue fields.
const TimeLayout = "2006-01-02T15:04:05.000-0700"

// ErrMissingID is returned when a search result element has no id.
var ErrMissingID = errors.New("issue has no id")

// Issue is one search hit. Which entries Fields holds depends on the field
// selection of the search; accessors return zero values for absent fields.
type Issue struct {
	ID     string                     `json:"id"`
	Self   string                     `json:"self,omitempty"`
	Key    string                     `json:"key,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

type named struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Field decodes the named field into v. It reports false if the field is absent or null.
func (i Issue) Field(name string, v any) (bool, error) {
	raw, ok := i.Fields[name]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("field %s: %w", name, err)
	}
	return true, nil
}

// Summary returns the summary field.
func (i Issue) Summary() string {
	var s string
	_, _ = i.Field("summary", &s)
	return s
}

// Status returns the status name.
func (i Issue) Status() string {
	var n named
	_, _ = i.Field("status", &n)
	return n.Name
}

// Assignee returns the assignee's display name, or "" if unassigned.
func (i Issue) Assignee() string {
	return i.user("assignee")
}

// Reporter returns the reporter's display name.
func (i Issue) Reporter() string {
	return i.user("reporter")
}

func (i Issue) user(field string) string {
	var n named
	_, _ = i.Field(field, &n)
	if n.DisplayName != "" {
		return n.DisplayName
	}
	return n.Name
}

// Created returns the creation time. The zero time means absent or unparsable.
func (i Issue) Created() time.Time {
	return i.timestamp("created")
}

// Updated returns the last update time.
func (i Issue) Updated() time.Time {
	return i.timestamp("updated")
}

func (i Issue) timestamp(field string) time.Time {
	var s string
	if ok, err := i.Field(field, &s); !ok || err != nil {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}
		}
	}
	return t
}

// Endpoint implements search.Endpoint for issues.
type Endpoint struct{}

// Path implements search.Endpoint.
func (Endpoint) Path(v search.Version) string {
	if v == search.VersionNext {
		return NextSearchPath
	}
	return LegacySearchPath
}

// ItemsKey implements search.Endpoint.
func (Endpoint) ItemsKey(search.Version) string {
	return ItemsKey
}

// DecodeItem implements search.Endpoint.
func (Endpoint) DecodeItem(raw json.RawMessage) (Issue, error) {
	var issue Issue
	if err := json.Unmarshal(raw, &issue); err != nil {
		return Issue{}, err
	}
	if issue.ID == "" {
		return Issue{}, ErrMissingID
	}
	return issue, nil
}

// NewSearcher creates an issue searcher.
func NewSearcher(cfg search.Config) (*search.Searcher[Issue], error) {
	return search.NewSearcher[Issue](cfg, Endpoint{})
}
