package evidence

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyFormat(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	got := Key("exam-7", "stu-42", "phone_detected", ts)
	want := "exam-7/stu-42_phone_detected_1700000000.jpg"
	if got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}

func TestPutUploadsSnapshot(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PUT" {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	u := NewUploader(srv.URL, "")
	url, err := u.Put(context.Background(), "exam-1/stu-1_no_person_1.jpg", []byte("jpegdata"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if gotPath != "/violation-evidence/exam-1/stu-1_no_person_1.jpg" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotType != "image/jpeg" || string(gotBody) != "jpegdata" {
		t.Fatalf("content-type = %q body = %q", gotType, gotBody)
	}
	if url != srv.URL+"/violation-evidence/exam-1/stu-1_no_person_1.jpg" {
		t.Fatalf("url = %q", url)
	}
}

func TestQueueRetriesUntilAccepted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First attempt per object fails, retry succeeds.
		if calls.Add(1)%2 == 1 {
			http.Error(w, "backend busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewQueue(NewUploader(srv.URL, "violation-evidence"))
	q.Add("exam-1/a.jpg", []byte("a"))

	uploaded, err := q.Flush(context.Background())
	if err == nil {
		t.Fatal("expected error on first flush")
	}
	if len(uploaded) != 0 || q.Pending() != 1 {
		t.Fatalf("after failed flush: uploaded=%d pending=%d", len(uploaded), q.Pending())
	}

	uploaded, err = q.Flush(context.Background())
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if len(uploaded) != 1 || q.Pending() != 0 {
		t.Fatalf("after retry: uploaded=%d pending=%d", len(uploaded), q.Pending())
	}
}

func TestQueuePartialFlushKeepsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/violation-evidence/exam-1/bad.jpg" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewQueue(NewUploader(srv.URL, "violation-evidence"))
	q.Add("exam-1/good.jpg", []byte("g"))
	q.Add("exam-1/bad.jpg", []byte("b"))

	uploaded, err := q.Flush(context.Background())
	if err == nil {
		t.Fatal("expected partial-flush error")
	}
	if _, ok := uploaded["exam-1/good.jpg"]; !ok {
		t.Fatal("good snapshot not uploaded")
	}
	if q.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", q.Pending())
	}
}

func TestManifestSignRoundTrip(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "manifest_key")
	pub, err := GenerateKey(keyPath)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := LoadSigner(keyPath)
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}

	snaps := map[string][]byte{"exam-1/a.jpg": []byte("jpeg-a")}
	urls := map[string]string{"exam-1/a.jpg": "http://store/violation-evidence/exam-1/a.jpg"}
	m := BuildManifest("exam-1", "stu-1", urls, snaps)

	signed, err := signer.Sign(m)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := Verify(pub, signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ExamID != "exam-1" || len(got.Entries) != 1 {
		t.Fatalf("unexpected manifest %+v", got)
	}
	if got.Entries[0].SHA256 == "" {
		t.Fatal("entry digest missing")
	}
}

func TestManifestTamperDetected(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "manifest_key")
	pub, err := GenerateKey(keyPath)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := LoadSigner(keyPath)
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}

	signed, err := signer.Sign(Manifest{ExamID: "exam-1", StudentID: "stu-1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed.Manifest = []byte(fmt.Sprintf(`{"exam_id":%q,"student_id":"stu-2"}`, "exam-1"))
	if _, err := Verify(pub, signed); err == nil {
		t.Fatal("expected verification failure on tampered manifest")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	dir := t.TempDir()
	_, err := GenerateKey(filepath.Join(dir, "k1"))
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := LoadSigner(filepath.Join(dir, "k1"))
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}
	otherPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate other key: %v", err)
	}

	signed, err := signer.Sign(Manifest{ExamID: "exam-1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Verify(otherPub, signed); err == nil {
		t.Fatal("expected verification failure with wrong key")
	}
}
