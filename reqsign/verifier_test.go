package reqsign_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lumenwatch/ingestd/projectkey"
	"github.com/lumenwatch/ingestd/reqsign"
)

const testSecret = "01234567890123456789012345678901"

func testCache() *projectkey.Cache {
	loader := func(ctx context.Context, key string) (projectkey.Secret, error) {
		if key != projectkey.DefaultProjectKey {
			return projectkey.Secret{}, projectkey.ErrNotFound
		}
		return projectkey.Secret{ProjectID: "default", HMACSecret: testSecret}, nil
	}
	return projectkey.New(loader, 0)
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func testVerifier() *reqsign.Verifier {
	return reqsign.New(testCache(), 32*1024, zerolog.Nop())
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(reqsign.Body(r.Context()))
	})
}

func TestValidSignaturePasses(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(body))
	rw := httptest.NewRecorder()

	testVerifier().Middleware(echoHandler()).ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	got, _ := io.ReadAll(rw.Body)
	if !bytes.Equal(got, body) {
		t.Fatalf("expected echoed body %s, got %s", body, got)
	}
}

func TestFlippedBodyBitRejected(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := sign(body)

	flipped := append([]byte{}, body...)
	flipped[0] ^= 0x01

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(flipped))
	req.Header.Set("X-Signature", sig)
	rw := httptest.NewRecorder()

	testVerifier().Middleware(echoHandler()).ServeHTTP(rw, req)

	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for flipped body, got %d", rw.Code)
	}
}

func TestFlippedSignatureRejected(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := sign(body)
	flippedSig := "f" + sig[1:]

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	req.Header.Set("X-Signature", flippedSig)
	rw := httptest.NewRecorder()

	testVerifier().Middleware(echoHandler()).ServeHTTP(rw, req)

	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for flipped signature, got %d", rw.Code)
	}
}

func TestMissingSignatureRejected(t *testing.T) {
	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	rw := httptest.NewRecorder()

	testVerifier().Middleware(echoHandler()).ServeHTTP(rw, req)

	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rw.Code)
	}
}

func TestUnknownProjectKeyRejected(t *testing.T) {
	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(body))
	req.Header.Set("X-Project-Key", "does-not-exist")
	rw := httptest.NewRecorder()

	testVerifier().Middleware(echoHandler()).ServeHTTP(rw, req)

	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown project key, got %d", rw.Code)
	}
}

func TestOversizedBodyRejectedWithoutHMAC(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 33*1024)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	// deliberately no X-Signature header: if the implementation touched
	// HMAC it would 401, not 400.
	rw := httptest.NewRecorder()

	testVerifier().Middleware(echoHandler()).ServeHTTP(rw, req)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rw.Code)
	}
}
