package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebhookNotifier_SignsAndDelivers(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wn := NewWebhookNotifier(srv.URL, "s3cret", nil)
	n := Notice{Title: "checks suspended", Body: "three failures", At: time.Now()}
	if err := wn.Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}

	var decoded Notice
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Title != n.Title {
		t.Fatalf("title = %q, want %q", decoded.Title, n.Title)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("signature = %q, want %q", gotSig, want)
	}
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	wn := NewWebhookNotifier(srv.URL, "", nil)
	err := wn.Notify(context.Background(), Notice{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v, want 502 failure", err)
	}
}
