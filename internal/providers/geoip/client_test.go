package geoip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientLookupSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.2.3.4" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if fields := r.URL.Query().Get("fields"); fields != requestedFields {
			t.Errorf("unexpected fields %q", fields)
		}

		json.NewEncoder(w).Encode(GeoData{
			Status:  StatusSuccess,
			Country: "United States",
			City:    "Ashburn",
			ISP:     "Example ISP",
			Query:   "1.2.3.4",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)

	data, err := client.Lookup(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if data.Failed() {
		t.Fatalf("Lookup reported failure: %+v", data)
	}
	if data.Country != "United States" || data.City != "Ashburn" {
		t.Fatalf("unexpected geo data: %+v", data)
	}
}

func TestClientLookupFailStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GeoData{Status: StatusFail, Message: "private range", Query: "10.0.0.1"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)

	data, err := client.Lookup(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if !data.Failed() {
		t.Fatal("expected a failed lookup")
	}
	if data.Message != "private range" {
		t.Fatalf("unexpected message %q", data.Message)
	}
}

func TestClientLookupServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)

	if _, err := client.Lookup(context.Background(), "1.2.3.4"); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestGeoDataFailed(t *testing.T) {
	var nilData *GeoData
	if !nilData.Failed() {
		t.Fatal("nil GeoData should count as failed")
	}
	if (&GeoData{Status: StatusSuccess}).Failed() {
		t.Fatal("success status should not count as failed")
	}
}
