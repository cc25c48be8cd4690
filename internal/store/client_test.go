package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"veriline/internal/domain"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

func newRecordingServer(t *testing.T, status int, payload string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.Method = r.Method
		rec.Path = r.URL.Path
		rec.Query = r.URL.RawQuery
		rec.Header = r.Header.Clone()
		rec.Body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, payload)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestMethodologyPathAndDecode(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusOK,
		`{"slug":"standard","title":"Standard","process":"{}"}`)
	c := NewClient(srv.URL)

	m, err := c.Methodology(context.Background(), "osint-lab", "standard")
	if err != nil {
		t.Fatalf("methodology: %v", err)
	}
	if rec.Path != "/v0/workspaces/osint-lab/methodologies/standard" {
		t.Fatalf("path = %q", rec.Path)
	}
	if m.Slug != "standard" || m.Title != "Standard" {
		t.Fatalf("decoded = %+v", m)
	}
}

func TestNotFoundMapsToErrNotFound(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusNotFound,
		`{"error":{"code":"not_found","message":"no such slug"}}`)
	c := NewClient(srv.URL)

	if _, err := c.Methodology(context.Background(), "osint-lab", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNon2xxMapsToAPIError(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusConflict, `{"error":{"code":"conflict"}}`)
	c := NewClient(srv.URL)

	_, err := c.Methodology(context.Background(), "osint-lab", "standard")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Body == "" {
		t.Fatalf("api error = %+v", apiErr)
	}
}

func TestAuthHeaders(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusOK, `{"items":[]}`)

	c := NewClient(srv.URL)
	c.APIKey = "vk_secret"
	if _, err := c.SegmentUnits(context.Background(), "ws", "inv", "seg", "incoming_data"); err != nil {
		t.Fatalf("segment units: %v", err)
	}
	if got := rec.Header.Get("X-Api-Key"); got != "vk_secret" {
		t.Fatalf("X-Api-Key = %q", got)
	}

	// Bearer wins over the key when both are configured.
	c.BearerToken = "jwt-token"
	if _, err := c.SegmentUnits(context.Background(), "ws", "inv", "seg", "incoming_data"); err != nil {
		t.Fatalf("segment units: %v", err)
	}
	if got := rec.Header.Get("Authorization"); got != "Bearer jwt-token" {
		t.Fatalf("Authorization = %q", got)
	}
	if got := rec.Header.Get("X-Api-Key"); got != "" {
		t.Fatalf("X-Api-Key sent alongside bearer: %q", got)
	}
}

func TestFreshClientConcurrentFanOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"items":[]}`)
	}))
	defer srv.Close()

	// Board seeding fires one fetch per column against a client that has
	// never made a request. The first calls must not trip over each other.
	c := NewClient(srv.URL)
	columns := []string{"incoming_data", "geolocation", "chronolocation", "discarded_data", "verified_data"}
	errs := make(chan error, len(columns))
	var wg sync.WaitGroup
	for _, col := range columns {
		wg.Add(1)
		go func(state string) {
			defer wg.Done()
			_, err := c.SegmentUnits(context.Background(), "osint-lab", "incident-7", "batch-1", state)
			errs <- err
		}(col)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("segment units: %v", err)
		}
	}
}

func TestSegmentUnitsEnvelope(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusOK,
		`{"items":[{"id":1,"source":"twitter","state":"","verification":1},{"id":2,"source":"telegram","verification":2}]}`)
	c := NewClient(srv.URL)

	units, err := c.SegmentUnits(context.Background(), "osint-lab", "incident-7", "batch-1", "incoming_data")
	if err != nil {
		t.Fatalf("segment units: %v", err)
	}
	if rec.Path != "/v0/workspaces/osint-lab/investigations/incident-7/segments/batch-1/units" {
		t.Fatalf("path = %q", rec.Path)
	}
	if rec.Query != "state=incoming_data" {
		t.Fatalf("query = %q", rec.Query)
	}
	if len(units) != 2 || units[0].ID != 1 || units[1].Source != "telegram" {
		t.Fatalf("units = %+v", units)
	}
}

func TestPutUnitStateBody(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusOK, `{}`)
	c := NewClient(srv.URL)

	snapshot := `{"value":"geolocation"}`
	if err := c.PutUnitState(context.Background(), "ws", "inv", "seg", 42, snapshot); err != nil {
		t.Fatalf("put state: %v", err)
	}
	if rec.Method != http.MethodPut || rec.Path != "/v0/workspaces/ws/investigations/inv/segments/seg/units/42/state" {
		t.Fatalf("request = %s %s", rec.Method, rec.Path)
	}
	var body struct {
		Snapshot string `json:"snapshot"`
	}
	if err := json.Unmarshal(rec.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Snapshot != snapshot {
		t.Fatalf("snapshot = %q", body.Snapshot)
	}
}

func TestAnnotationsRoundTrip(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusOK,
		`{"items":[{"key":"lat","name":"Latitude","value":"48.85"}]}`)
	c := NewClient(srv.URL)

	anns, err := c.Annotations(context.Background(), "ws", "inv", 7)
	if err != nil {
		t.Fatalf("annotations: %v", err)
	}
	if rec.Path != "/v0/workspaces/ws/investigations/inv/verifications/7/annotations" {
		t.Fatalf("path = %q", rec.Path)
	}
	if len(anns) != 1 || anns[0].Key != "lat" || anns[0].Value != "48.85" {
		t.Fatalf("annotations = %+v", anns)
	}

	if err := c.PutAnnotation(context.Background(), "ws", "inv", 7, domain.Annotation{Key: "lat", Value: "48.85"}); err != nil {
		t.Fatalf("put annotation: %v", err)
	}
	if rec.Method != http.MethodPut {
		t.Fatalf("method = %q", rec.Method)
	}
}

func TestUnitsByIDs(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusOK,
		`{"items":[{"id":3,"id_hash":"h3","source":"twitter","unit_id":"t3"}]}`)
	c := NewClient(srv.URL)

	units, err := c.UnitsByIDs(context.Background(), "ws", []int{3, 4})
	if err != nil {
		t.Fatalf("units by ids: %v", err)
	}
	if rec.Query != "ids=3,4" {
		t.Fatalf("query = %q", rec.Query)
	}
	if len(units) != 1 || units[0].IDHash != "h3" {
		t.Fatalf("units = %+v", units)
	}

	// No ids means no request at all.
	rec.Method = ""
	if units, err := c.UnitsByIDs(context.Background(), "ws", nil); err != nil || units != nil {
		t.Fatalf("empty ids = %v, %v", units, err)
	}
	if rec.Method != "" {
		t.Fatalf("request issued for empty id list")
	}
}

func TestImportMethodology(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusCreated,
		`{"id":"m1","slug":"standard","title":"Standard"}`)
	c := NewClient(srv.URL)

	m, err := c.ImportMethodology(context.Background(), "ws", "standard", "Standard", "", `{"initial":"incoming_data"}`)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if rec.Method != http.MethodPost || rec.Path != "/v0/workspaces/ws/methodologies" {
		t.Fatalf("request = %s %s", rec.Method, rec.Path)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["slug"] != "standard" || body["process"] == "" {
		t.Fatalf("body = %v", body)
	}
	if m.ID != "m1" {
		t.Fatalf("decoded = %+v", m)
	}
}
