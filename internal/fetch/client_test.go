package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sdko-org/analytics-dashboard/internal/endpoint"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(testLogger(), srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

var eventsDescriptor = endpoint.Descriptor{Key: "events", URLTemplate: "/api/getEventsData", Method: http.MethodGet}

func TestExecuteSuccessKeepsRawNumbers(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/getEventsData" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"WebsiteName":"A","EventTime":3661000,"EventType":"click"}]`)
	})

	records, err := c.Execute(context.Background(), eventsDescriptor, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if got := records[0]["EventTime"]; got != json.Number("3661000") {
		t.Errorf("EventTime = %#v, want raw 3661000", got)
	}
	if records[0]["WebsiteName"] != "A" {
		t.Errorf("unexpected WebsiteName %v", records[0]["WebsiteName"])
	}
}

func TestExecuteEmptyArray(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	})

	records, err := c.Execute(context.Background(), eventsDescriptor, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", records)
	}
}

func TestExecuteSendsParams(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sites/a/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("expected limit=5, got %q", r.URL.RawQuery)
		}
		io.WriteString(w, `[]`)
	})

	d := endpoint.Descriptor{Key: "site-events", URLTemplate: "/api/sites/{site}/events", Method: http.MethodGet}
	if _, err := c.Execute(context.Background(), d, endpoint.Params{"site": "a", "limit": 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   Kind
		wantStatus int
	}{
		{"server error", http.StatusInternalServerError, `oops`, KindHTTP, 500},
		{"not found", http.StatusNotFound, ``, KindHTTP, 404},
		{"malformed", http.StatusOK, `[{"a":`, KindParse, 0},
		{"object body", http.StatusOK, `{"a":1}`, KindParse, 0},
		{"null body", http.StatusOK, `null`, KindParse, 0},
		{"nested record", http.StatusOK, `[{"a":{"b":1}}]`, KindParse, 0},
		{"nested array", http.StatusOK, `[{"a":[1,2]}]`, KindParse, 0},
		{"null record", http.StatusOK, `[null]`, KindParse, 0},
		{"trailing data", http.StatusOK, `[] []`, KindParse, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := c.Execute(context.Background(), eventsDescriptor, nil)
			var fe *Error
			if !errors.As(err, &fe) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if fe.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", fe.Kind, tt.wantKind)
			}
			if fe.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", fe.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestExecuteNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(testLogger(), url)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Execute(context.Background(), eventsDescriptor, nil)
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestExecuteCancelled(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		io.WriteString(w, `[]`)
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Execute(ctx, eventsDescriptor, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var fe *Error
	if errors.As(err, &fe) {
		t.Fatal("cancellation must not be reported as a fetch error")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestWithTransport(t *testing.T) {
	var seen string
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.URL.String()
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(`[{"PageName":"home"}]`)),
			Request:    r,
		}, nil
	})

	c, err := NewClient(testLogger(), "http://analytics.local/base/", WithTransport(rt), WithRateLimit(100, 1))
	if err != nil {
		t.Fatal(err)
	}
	records, err := c.Execute(context.Background(), endpoint.Descriptor{Key: "pages", URLTemplate: "/api/getPagesData", Method: http.MethodGet}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "http://analytics.local/base/api/getPagesData" {
		t.Errorf("unexpected url %s", seen)
	}
	if len(records) != 1 || records[0]["PageName"] != "home" {
		t.Errorf("unexpected records %v", records)
	}
}

func TestNewClientRejectsRelativeBase(t *testing.T) {
	if _, err := NewClient(testLogger(), "/api"); err == nil {
		t.Fatal("expected error for relative base url")
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	fe := AsError(errors.New("boom"))
	if fe.Kind != KindNetwork {
		t.Errorf("expected network kind, got %s", fe.Kind)
	}
	orig := &Error{Kind: KindParse, Message: "bad"}
	if AsError(orig) != orig {
		t.Error("expected classified error to pass through")
	}
}
