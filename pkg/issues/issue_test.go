package issues

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/jira-search-client/pkg/search"
)

const standardIssue = `{
	"id": "10042",
	"self": "https://acme.atlassian.net/rest/api/3/issue/10042",
	"key": "OPS-42",
	"fields": {
		"summary": "Disk full on build agent",
		"status": {"name": "In Progress", "id": "3"},
		"assignee": {"displayName": "Robin Weber", "accountId": "abc"},
		"reporter": {"name": "jdoe"},
		"created": "2024-03-01T09:15:00.000+0100",
		"updated": "2024-03-02T10:00:00Z"
	}
}`

func TestEndpoint_DecodeItem(t *testing.T) {
	issue, err := Endpoint{}.DecodeItem(json.RawMessage(standardIssue))
	if err != nil {
		t.Fatalf("DecodeItem() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ID", issue.ID, "10042"},
		{"Key", issue.Key, "OPS-42"},
		{"Summary", issue.Summary(), "Disk full on build agent"},
		{"Status", issue.Status(), "In Progress"},
		{"Assignee", issue.Assignee(), "Robin Weber"},
		{"Reporter", issue.Reporter(), "jdoe"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}

	wantCreated := time.Date(2024, 3, 1, 8, 15, 0, 0, time.UTC)
	if !issue.Created().Equal(wantCreated) {
		t.Errorf("Created() = %v, want %v", issue.Created(), wantCreated)
	}
	if issue.Updated().IsZero() {
		t.Error("Updated() is zero, want RFC 3339 fallback")
	}
}

func TestEndpoint_DecodeItem_Minimal(t *testing.T) {
	issue, err := Endpoint{}.DecodeItem(json.RawMessage(`{"id":"7"}`))
	if err != nil {
		t.Fatalf("DecodeItem() error = %v", err)
	}
	if issue.Summary() != "" || issue.Status() != "" || !issue.Created().IsZero() {
		t.Errorf("accessors on minimal issue = %q %q %v", issue.Summary(), issue.Status(), issue.Created())
	}
}

func TestEndpoint_DecodeItem_Errors(t *testing.T) {
	if _, err := (Endpoint{}).DecodeItem(json.RawMessage(`{"key":"OPS-1"}`)); !errors.Is(err, ErrMissingID) {
		t.Errorf("missing id error = %v, want ErrMissingID", err)
	}
	if _, err := (Endpoint{}).DecodeItem(json.RawMessage(`"OPS-1"`)); err == nil {
		t.Error("string element error = nil, want error")
	}
}

func TestIssue_Field(t *testing.T) {
	issue := Issue{ID: "1", Fields: map[string]json.RawMessage{
		"customfield_10010": json.RawMessage(`5`),
		"resolution":        json.RawMessage(`null`),
		"labels":            json.RawMessage(`"not-a-list"`),
	}}

	var points int
	if ok, err := issue.Field("customfield_10010", &points); !ok || err != nil || points != 5 {
		t.Errorf("Field(customfield) = %v, %v, %d", ok, err, points)
	}

	var res map[string]any
	if ok, err := issue.Field("resolution", &res); ok || err != nil {
		t.Errorf("Field(null) = %v, %v, want absent", ok, err)
	}

	var labels []string
	if ok, err := issue.Field("labels", &labels); !ok || err == nil {
		t.Errorf("Field(labels) = %v, %v, want type error", ok, err)
	}
}

func TestEndpoint_Paths(t *testing.T) {
	e := Endpoint{}
	if e.Path(search.VersionLegacy) != "/rest/api/latest/search" {
		t.Errorf("legacy path = %q", e.Path(search.VersionLegacy))
	}
	if e.Path(search.VersionNext) != "/rest/api/3/search/jql" {
		t.Errorf("next path = %q", e.Path(search.VersionNext))
	}
	if e.ItemsKey(search.VersionNext) != "issues" || e.ItemsKey(search.VersionLegacy) != "issues" {
		t.Error("items key is not issues")
	}
}
