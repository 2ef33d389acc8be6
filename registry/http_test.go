package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/knotspace/knot/knoterr"
)

func TestPublishMetadataConflictMapsToVersionConflictError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"version already exists"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "")
	err := client.PublishMetadata(context.Background(), Metadata{Name: "utils", Version: "1.0.0"})

	var vc *knoterr.VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatalf("expected VersionConflictError, got %T: %v", err, err)
	}
	if vc.Suggestion != "bump version" {
		t.Fatalf("expected 'bump version' suggestion, got %q", vc.Suggestion)
	}
}

func TestNewHTTPClientAttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret-token")
	if _, err := client.ListVersions(context.Background(), "utils"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("expected bearer token header, got %q", gotAuth)
	}
}
