package provider

import "testing"

func TestFormatCitationDedupesAndCapitalizes(t *testing.T) {
	a := NewHTTPSearchVendorAdapter(HTTPSearchVendorConfig{Name: "search", APIKey: "k"})
	results := []SearchResult{
		{URL: "https://www.nytimes.com/a"},
		{URL: "https://space.com/b"},
		{URL: "https://space.com/c"},
	}
	got := a.FormatCitation(results)
	want := "Based on sources including Nytimes and Space"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatContextEmptyResults(t *testing.T) {
	a := NewHTTPSearchVendorAdapter(HTTPSearchVendorConfig{Name: "search", APIKey: "k"})
	if got := a.FormatContext(nil); got != "" {
		t.Fatalf("expected empty context for no results, got %q", got)
	}
}
