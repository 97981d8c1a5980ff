package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"bnpl-engine/internal/infrastructure/logging"
)

func setupEcho(required bool, handler echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(IdempotencyKey(required))
	e.POST("/loans", handler)
	e.GET("/loans", handler)
	return e
}

func doReq(t *testing.T, e *echo.Echo, method, path string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func echoKey(c echo.Context) error {
	b, _ := io.ReadAll(c.Request().Body)
	return c.JSON(http.StatusCreated, map[string]string{"key": KeyFrom(c), "body": string(b)})
}

func Test_bodyHash(t *testing.T) {
	data := []byte("hello world")
	sum := sha256.Sum256(data)
	if got := bodyHash(data); got != hex.EncodeToString(sum[:]) {
		t.Fatalf("bodyHash mismatch: %s", got)
	}
}

func Test_validKey(t *testing.T) {
	for _, k := range []string{
		"3f9a6a1b3d544fbe8b3a6b3e8d6b2c88",
		"3f9a6a1b-3d54-4fbe-8b3a-6b3e8d6b2c88",
		"order:1234:pay",
	} {
		if !validKey(k) {
			t.Fatalf("expected %q valid", k)
		}
	}
	for _, k := range []string{"", "short", "has space in it", "-leading-dash", strings.Repeat("a", 129)} {
		if validKey(k) {
			t.Fatalf("expected %q invalid", k)
		}
	}
}

func Test_BypassOnGET(t *testing.T) {
	e := setupEcho(true, func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if rec := doReq(t, e, http.MethodGet, "/loans", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func Test_KeyValidation(t *testing.T) {
	tests := []struct {
		name     string
		required bool
		key      string
		want     int
	}{
		{"required missing", true, "", http.StatusBadRequest},
		{"optional missing", false, "", http.StatusCreated},
		{"bad format", false, "no spaces allowed", http.StatusBadRequest},
		{"valid", true, "pay-0001-abcdef", http.StatusCreated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := setupEcho(tc.required, echoKey)
			hdr := map[string]string{}
			if tc.key != "" {
				hdr[HeaderIdempotencyKey] = tc.key
			}
			rec := doReq(t, e, http.MethodPost, "/loans", strings.NewReader(`{}`), hdr)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func Test_KeyAndBodyReachHandler(t *testing.T) {
	e := setupEcho(true, echoKey)
	rec := doReq(t, e, http.MethodPost, "/loans", strings.NewReader(`{"a":1}`), map[string]string{HeaderIdempotencyKey: " pay-0001-abcdef "})
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if got["key"] != "pay-0001-abcdef" || got["body"] != `{"a":1}` {
		t.Fatalf("handler saw %+v", got)
	}
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func Test_BodyReadFailures(t *testing.T) {
	e := setupEcho(true, echoKey)
	hdr := map[string]string{HeaderIdempotencyKey: "pay-0001-abcdef"}

	if rec := doReq(t, e, http.MethodPost, "/loans", brokenBody{}, hdr); rec.Code != http.StatusBadRequest {
		t.Fatalf("broken body: status = %d, want 400", rec.Code)
	}
	big := strings.NewReader(strings.Repeat("x", int(MaxBodyBytes)+1))
	if rec := doReq(t, e, http.MethodPost, "/loans", big, hdr); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: status = %d, want 413", rec.Code)
	}
	atLimit := strings.NewReader(strings.Repeat("x", int(MaxBodyBytes)))
	if rec := doReq(t, e, http.MethodPost, "/loans", atLimit, hdr); rec.Code != http.StatusCreated {
		t.Fatalf("body at limit: status = %d, want 201", rec.Code)
	}
}

func Test_RequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, "debug", "bnpl-engine")

	e := echo.New()
	e.Use(RequestLogger(log), IdempotencyKey(false))
	e.POST("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "busy")
	})
	rec := doReq(t, e, http.MethodPost, "/fail", strings.NewReader(`{}`), map[string]string{HeaderIdempotencyKey: "pay-0001-abcdef"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log not json: %v (%s)", err, buf.String())
	}
	if entry["level"] != logrus.WarnLevel.String() || entry["path"] != "/fail" || entry["status"] != float64(409) {
		t.Fatalf("entry = %+v", entry)
	}
	if entry["idempotency_key"] != "pay-0001-abcdef" || entry["service"] != "bnpl-engine" {
		t.Fatalf("entry = %+v", entry)
	}
}
