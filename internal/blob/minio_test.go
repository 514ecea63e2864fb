package blob

import (
	"context"
	"testing"
)

func TestNewStoreDisabledWithoutEndpoint(t *testing.T) {
	store, err := NewStore(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if store != nil {
		t.Fatal("expected nil store when unconfigured")
	}
}

func TestPDFKey(t *testing.T) {
	got := PDFKey(12345, "abc123")
	if got != "proposals/12345/abc123.pdf" {
		t.Fatalf("PDFKey = %q", got)
	}
}
