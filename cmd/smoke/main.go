// Command smoke exercises a running cadence-api instance end to end:
// probes, registration, the unverified-login refusal, and the neutral
// resend response. It needs no database access and is safe to run
// against a staging deployment.
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	log.SetFlags(0)
	base := os.Getenv("CADENCE_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	client := &http.Client{Timeout: 10 * time.Second}

	check(client, http.MethodGet, base+"/healthz", nil, http.StatusOK, "healthz")
	check(client, http.MethodGet, base+"/readyz", nil, http.StatusOK, "readyz")

	suffix := randomSuffix()
	email := fmt.Sprintf("smoke-%s@example.com", suffix)
	password := "Smoke-test-9!" + suffix

	check(client, http.MethodPost, base+"/api/auth/register", map[string]any{
		"username":       "smoke_" + suffix,
		"email":          email,
		"password":       password,
		"accepted_terms": true,
	}, http.StatusCreated, "register")

	// The account is unverified, so login must refuse with 403.
	check(client, http.MethodPost, base+"/api/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, http.StatusForbidden, "login before verification")

	check(client, http.MethodPost, base+"/api/auth/resend-verification", map[string]any{
		"email": email,
	}, http.StatusOK, "resend verification")

	// Unknown addresses get the same answer as known ones.
	check(client, http.MethodPost, base+"/api/auth/resend-verification", map[string]any{
		"email": fmt.Sprintf("nobody-%s@example.com", suffix),
	}, http.StatusOK, "resend for unknown address")

	fmt.Println("smoke test passed")
}

func check(client *http.Client, method, url string, body map[string]any, wantStatus int, step string) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s: marshal: %v", step, err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		log.Fatalf("%s: build request: %v", step, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s: %v", step, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		log.Fatalf("%s: got %d, want %d", step, resp.StatusCode, wantStatus)
	}
}

func randomSuffix() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		log.Fatalf("random suffix: %v", err)
	}
	return hex.EncodeToString(buf[:])
}
