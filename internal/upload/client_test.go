package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opencohort/fieldlink/internal/models"
)

func testSurveyPayload() *SurveyPayload {
	sv := &models.Survey{ID: "s1", SubjectID: "SUBJ", Language: "en", Completed: true}
	return BuildSurveyPayload(sv, nil, nil)
}

func TestClientSendSurveyStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   Category
	}{
		{http.StatusUnauthorized, Unauthorized},
		{http.StatusForbidden, Unauthorized},
		{http.StatusNotFound, NotFound},
		{http.StatusUnprocessableEntity, ClientError},
		{http.StatusInternalServerError, ServerError},
		{http.StatusBadGateway, ServerError},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewClient(srv.URL, "key", time.Second)
		err := c.SendSurvey(context.Background(), testSurveyPayload())
		srv.Close()
		ue, ok := AsUploadError(err)
		if !ok {
			t.Fatalf("status %d: expected upload error, got %v", tc.status, err)
		}
		if ue.Category != tc.want {
			t.Fatalf("status %d: category %s, want %s", tc.status, ue.Category, tc.want)
		}
	}
}

func TestClientSendSurveySuccess(t *testing.T) {
	var gotKey, gotPath, gotSubject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		var p SurveyPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		gotSubject = p.SubjectID
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret-key", time.Second)
	if err := c.SendSurvey(context.Background(), testSurveyPayload()); err != nil {
		t.Fatalf("SendSurvey: %v", err)
	}
	if gotPath != "/api/sync/survey" {
		t.Fatalf("path %s", gotPath)
	}
	if gotKey != "secret-key" {
		t.Fatalf("api key header %q", gotKey)
	}
	if gotSubject != "SUBJ" {
		t.Fatalf("subject %q", gotSubject)
	}
}

func TestClientSendPayment(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second)
	rec := &models.PaymentRecord{ID: "p1", SurveyID: "s1", SubjectID: "SUBJ", CouponCodes: "C1,C2"}
	if err := c.SendPayment(context.Background(), BuildPaymentPayload(rec)); err != nil {
		t.Fatalf("SendPayment: %v", err)
	}
	if gotPath != "/api/sync/payment" {
		t.Fatalf("path %s", gotPath)
	}
}

func TestClientHostUnreachable(t *testing.T) {
	// Reserved TEST-NET address, nothing listens there.
	c := NewClient("http://192.0.2.1:9", "key", 200*time.Millisecond)
	err := c.SendSurvey(context.Background(), testSurveyPayload())
	ue, ok := AsUploadError(err)
	if !ok {
		t.Fatalf("expected upload error, got %v", err)
	}
	if ue.Category != HostUnreachable && ue.Category != Timeout {
		t.Fatalf("category %s, want connectivity failure", ue.Category)
	}
}

func TestClientPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sync/survey/version" {
			t.Errorf("path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(VersionInfo{Version: "2.4.1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second)
	info, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if info.Version != "2.4.1" {
		t.Fatalf("version %q", info.Version)
	}
}

func TestClientPingMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>login page</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second)
	_, err := c.Ping(context.Background())
	ue, ok := AsUploadError(err)
	if !ok || ue.Category != MalformedResponse {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}
