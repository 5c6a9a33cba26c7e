package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestControlDocsEndpointSortsByLabel(t *testing.T) {
	mux := http.NewServeMux()
	registerControlDocEndpoints(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/controls", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var docs []ControlDoc
	if err := json.NewDecoder(rr.Body).Decode(&docs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(docs) != len(defaultControlDocs) {
		t.Fatalf("expected %d docs, got %d", len(defaultControlDocs), len(docs))
	}
	for i := 1; i < len(docs); i++ {
		if docs[i-1].Label > docs[i].Label {
			t.Fatalf("docs not sorted: %q before %q", docs[i-1].Label, docs[i].Label)
		}
	}
	if defaultControlDocs[0].ID != "pitch" {
		t.Fatal("handler must not reorder the shared slice")
	}
}

func TestControlDocsKeepSpaceOnAltitude(t *testing.T) {
	for _, doc := range defaultControlDocs {
		switch doc.ID {
		case "altitude":
			if !strings.HasPrefix(doc.Shortcut, "Space") || doc.Note == "" {
				t.Fatalf("altitude doc must bind Space and explain it: %+v", doc)
			}
		case "boost":
			if doc.Shortcut != "B" || doc.Note == "" {
				t.Fatalf("boost doc must bind B and explain it: %+v", doc)
			}
		default:
			if strings.Contains(doc.Shortcut, "Space") {
				t.Fatalf("Space documented on %q", doc.ID)
			}
		}
	}
}
