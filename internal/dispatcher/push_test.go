package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPushSenderSuccess(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"code":200,"message":"success"}`))
	}))
	defer server.Close()

	sender := NewHTTPPushSender(server.URL, 5*time.Second)
	result := sender.Send(context.Background(), PushRequest{BarkKey: "mykey123", Content: "drink water"})

	if result.Error != nil {
		t.Fatalf("Send failed: %v", result.Error)
	}
	if result.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", result.StatusCode)
	}
	if result.Body != `{"code":200,"message":"success"}` {
		t.Errorf("unexpected body: %q", result.Body)
	}
	if gotPath != "/mykey123/drink water" {
		t.Errorf("unexpected request path: %q", gotPath)
	}
	if gotQuery != "level=critical&volume=5" {
		t.Errorf("unexpected query: %q", gotQuery)
	}
}

func TestPushSenderEscapesContent(t *testing.T) {
	var gotURI string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPPushSender(server.URL, 5*time.Second)
	result := sender.Send(context.Background(), PushRequest{BarkKey: "k", Content: "50% off / now?"})

	if result.Error != nil {
		t.Fatalf("Send failed: %v", result.Error)
	}
	if strings.Contains(gotURI, "50% ") {
		t.Errorf("content not escaped: %q", gotURI)
	}
	if !strings.Contains(gotURI, "50%25%20off%20%2F%20now%3F") {
		t.Errorf("expected path-escaped content in URI, got %q", gotURI)
	}
}

func TestPushSenderNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("device key invalid"))
	}))
	defer server.Close()

	sender := NewHTTPPushSender(server.URL, 5*time.Second)
	result := sender.Send(context.Background(), PushRequest{BarkKey: "bad", Content: "x"})

	if result.Error != nil {
		t.Fatalf("a non-2xx response is not a transport error: %v", result.Error)
	}
	if result.StatusCode != 400 {
		t.Errorf("expected status 400, got %d", result.StatusCode)
	}
	if result.Body != "device key invalid" {
		t.Errorf("unexpected body: %q", result.Body)
	}
	if result.IsSuccess() {
		t.Error("400 must not be a success")
	}
}

func TestPushSenderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	sender := NewHTTPPushSender(server.URL, 50*time.Millisecond)
	result := sender.Send(context.Background(), PushRequest{BarkKey: "k", Content: "x"})

	if result.Error == nil {
		t.Fatal("expected a timeout error")
	}
	if result.IsSuccess() {
		t.Error("a timed out call must not be a success")
	}
}

func TestPushSenderConnectionRefused(t *testing.T) {
	// Grab a port that is closed by shutting a test server down first.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	sender := NewHTTPPushSender(deadURL, time.Second)
	result := sender.Send(context.Background(), PushRequest{BarkKey: "k", Content: "x"})

	if result.Error == nil {
		t.Fatal("expected a connection error")
	}
}

func TestPushSenderTrimsTrailingSlash(t *testing.T) {
	sender := NewHTTPPushSender("https://api.day.app/", 0)

	got := sender.buildURL(PushRequest{BarkKey: "abc", Content: "hi"})
	want := "https://api.day.app/abc/hi?level=critical&volume=5"
	if got != want {
		t.Errorf("buildURL = %q, want %q", got, want)
	}
}

func TestPushSenderTruncatesLargeBody(t *testing.T) {
	big := strings.Repeat("x", maxResponseBody*2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))
	defer server.Close()

	sender := NewHTTPPushSender(server.URL, 5*time.Second)
	result := sender.Send(context.Background(), PushRequest{BarkKey: "k", Content: "x"})

	if result.Error != nil {
		t.Fatalf("Send failed: %v", result.Error)
	}
	if len(result.Body) != maxResponseBody {
		t.Errorf("expected body capped at %d bytes, got %d", maxResponseBody, len(result.Body))
	}
}
