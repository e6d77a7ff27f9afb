package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ehrlich-b/shiplog/internal/report"
)

func testEvent() Event {
	return Event{
		Build: report.BuildDocument{
			ID: "b1",
			Build: report.BuildInfo{
				Org:        "shipco",
				Project:    "hullapp",
				Branch:     "trunk",
				Status:     report.StatusSuccess,
				DurationMs: 84500,
			},
			Test: &report.TestSummary{Total: 6, Passed: 5, Failed: 1},
		},
		URL: "http://ship.example/b/b1",
	}
}

func TestRenderMessageDefault(t *testing.T) {
	msg, err := renderMessage("", testEvent())
	if err != nil {
		t.Fatalf("renderMessage failed: %v", err)
	}
	want := "shipco/hullapp trunk: build success in 1m24.5s, tests 5/6 passed http://ship.example/b/b1"
	if msg != want {
		t.Errorf("message = %q, want %q", msg, want)
	}
}

func TestRenderMessageNoTests(t *testing.T) {
	ev := testEvent()
	ev.Build.Test = nil
	ev.URL = ""

	msg, err := renderMessage("", ev)
	if err != nil {
		t.Fatalf("renderMessage failed: %v", err)
	}
	if strings.Contains(msg, "tests") {
		t.Errorf("message mentions tests for a build without reports: %q", msg)
	}
	if strings.HasSuffix(msg, " ") {
		t.Errorf("message has trailing space without a URL: %q", msg)
	}
}

func TestWebhookNotify(t *testing.T) {
	var gotAuth, gotContentType string
	var gotPayload webhookPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := &Webhook{URL: srv.URL, Token: "tok123"}
	if err := hook.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok123")
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotPayload.BuildID != "b1" || gotPayload.Status != "success" {
		t.Errorf("payload = %+v", gotPayload)
	}
	if !strings.Contains(gotPayload.Text, "shipco/hullapp") {
		t.Errorf("text = %q, want project identity in it", gotPayload.Text)
	}
}

func TestWebhookServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel_not_found", http.StatusNotFound)
	}))
	defer srv.Close()

	hook := &Webhook{URL: srv.URL}
	err := hook.Notify(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	if !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("error = %v, want response body included", err)
	}
}

func TestWebhookCustomTemplate(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		gotText = p.Text
	}))
	defer srv.Close()

	hook := &Webhook{URL: srv.URL, Template: "build {{.BuildID}} is {{.Status}}"}
	if err := hook.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if gotText != "build b1 is success" {
		t.Errorf("text = %q, want %q", gotText, "build b1 is success")
	}
}

func TestEmailBuildMail(t *testing.T) {
	ev := testEvent()
	ev.Build.Build.Status = report.StatusFailed

	e := &Email{
		Addr: "mail.example:587",
		From: "shiplog@shipco.example",
		To:   []string{"crew@shipco.example", "captain@shipco.example"},
	}
	msg, err := e.buildMail(ev)
	if err != nil {
		t.Fatalf("buildMail failed: %v", err)
	}

	mail := string(msg)
	for _, want := range []string{
		"From: shiplog@shipco.example\r\n",
		"To: crew@shipco.example, captain@shipco.example\r\n",
		"Subject: shiplog: failed shipco/hullapp on trunk\r\n",
		"\r\n\r\n",
		"shipco/hullapp trunk: build failed",
	} {
		if !strings.Contains(mail, want) {
			t.Errorf("mail missing %q:\n%s", want, mail)
		}
	}
}

type fakeNotifier struct {
	called bool
	err    error
}

func (f *fakeNotifier) Notify(ctx context.Context, ev Event) error {
	f.called = true
	return f.err
}

func TestMultiTriesAll(t *testing.T) {
	bad := &fakeNotifier{err: errors.New("down")}
	good := &fakeNotifier{}

	err := Multi{bad, good}.Notify(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected the failing notifier's error")
	}
	if !bad.called || !good.called {
		t.Errorf("called = %v, %v, want both", bad.called, good.called)
	}
}
