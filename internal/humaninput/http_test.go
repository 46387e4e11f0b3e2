package humaninput

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRouterQuestionAndAnswer(t *testing.T) {
	b := newTestBridge(0)
	srv := httptest.NewServer(NewRouter(b, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/question")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("idle GET /question = %d, want 204", resp.StatusCode)
	}

	result := askAsync(b, "Resume?", []string{"Resume", "Start fresh"})
	waitPending(t, b)

	resp, err = http.Get(srv.URL + "/question")
	if err != nil {
		t.Fatal(err)
	}
	var q Question
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if q.Text != "Resume?" {
		t.Fatalf("question = %+v", q)
	}

	resp, err = http.Post(srv.URL+"/answer", "application/json", strings.NewReader(`{"id":"`+q.ID+`","answer":"nope"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid choice status = %d, want 422", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/answer", "application/json", strings.NewReader(`{"id":"`+q.ID+`","answer":"Resume"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("answer status = %d, want 204", resp.StatusCode)
	}
	if res := <-result; res.answer != "Resume" {
		t.Errorf("Ask = %q", res.answer)
	}

	resp, err = http.Post(srv.URL+"/answer", "application/json", strings.NewReader(`{"answer":"Resume"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("answer with nothing pending = %d, want 409", resp.StatusCode)
	}
}

func TestRouterHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("meetrunner_up 1\n"))
	})
	h := NewRouter(newTestBridge(0), metrics)

	for _, path := range []string{"/healthz", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rr.Code)
		}
	}
}

func TestRouterBadBody(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRouter(newTestBridge(0), nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/answer", strings.NewReader("{")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}
