package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// rosterHandler fakes enough of the roster service for client tests.
func rosterHandler(t *testing.T, pages map[string]PupilPage) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/pupils":
			page, ok := pages[r.URL.Query().Get("page")]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(page)
		default:
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestListPupils(t *testing.T) {
	pages := map[string]PupilPage{
		"1": {
			Items:      []PupilInfo{{PupilID: 1, Name: "Asha", Country: "Kenya"}},
			PageNumber: 1,
			ItemCount:  1,
			TotalPages: 2,
		},
	}
	srv := httptest.NewServer(rosterHandler(t, pages))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	page, err := c.ListPupils(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListPupils failed: %v", err)
	}
	if page.TotalPages != 2 || len(page.Items) != 1 {
		t.Errorf("Unexpected page: %+v", page)
	}
	if page.Items[0].PupilID != 1 || page.Items[0].Name != "Asha" {
		t.Errorf("Unexpected item: %+v", page.Items[0])
	}
}

func TestListPupilsMissingPage(t *testing.T) {
	srv := httptest.NewServer(rosterHandler(t, nil))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.ListPupils(context.Background(), 1)
	if !IsNotFound(err) {
		t.Fatalf("Expected 404, got %v", err)
	}
}

func TestCreatePupil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/pupils" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		var req PupilRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(PupilInfo{
			PupilID: 77, Name: req.Name, Country: req.Country,
			Latitude: req.Latitude, Longitude: req.Longitude,
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	info, err := c.CreatePupil(context.Background(), PupilRequest{
		Name: "Asha", Country: "Kenya", Latitude: -1.29, Longitude: 36.82,
	})
	if err != nil {
		t.Fatalf("CreatePupil failed: %v", err)
	}
	if info.PupilID != 77 {
		t.Errorf("Expected assigned id 77, got %d", info.PupilID)
	}
}

func TestUpdateAndDeletePupilPaths(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodPut:
			_ = json.NewEncoder(w).Encode(PupilInfo{PupilID: 5, Name: "B"})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	ctx := context.Background()

	if _, err := c.UpdatePupil(ctx, 5, PupilRequest{Name: "B", Country: "KE"}); err != nil {
		t.Fatalf("UpdatePupil failed: %v", err)
	}
	if err := c.DeletePupil(ctx, 5); err != nil {
		t.Fatalf("DeletePupil failed: %v", err)
	}

	want := []string{"PUT /pupils/5", "DELETE /pupils/5"}
	if len(gotPaths) != 2 || gotPaths[0] != want[0] || gotPaths[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, gotPaths)
	}
}

func TestGetPupilNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.GetPupil(context.Background(), 99); !IsNotFound(err) {
		t.Fatalf("Expected 404, got %v", err)
	}
}
