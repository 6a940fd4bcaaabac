package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"code 482913 sent", "code [REDACTED:code] sent"},
		{"hi @alice_art", "hi [REDACTED:handle]"},
		{"mail a.b@example.com", "mail [REDACTED:email]"},
		{"id 123e4567-e89b-12d3-a456-426614174000", "id [REDACTED:id]"},
		{"call 15551234567", "call [REDACTED:phone]"},
		{"order 12345", "order 12345"},
	}
	for _, tc := range cases {
		if got := Redact(tc.in); got != tc.want {
			t.Errorf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactQuery(t *testing.T) {
	mask := lowerSet([]string{"phone", "code"}, nil)

	got := redactQuery("phone=15551234567&note=call+@alice_art&CODE=482913", mask)
	want := "CODE=[REDACTED]&note=call [REDACTED:handle]&phone=[REDACTED]"
	if got != want {
		t.Fatalf("redactQuery = %q, want %q", got, want)
	}
	if got := redactQuery("", mask); got != "" {
		t.Fatalf("empty query = %q", got)
	}
	// Unparsable queries fall back to plain scrubbing.
	if got := redactQuery("%zz&482913", mask); got != "%zz&[REDACTED:code]" {
		t.Fatalf("unparsable query = %q", got)
	}
}

func TestRedactingLogger_MasksAndLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/api/v1/telegram/verification-status", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.POST("/api/v1/telegram/webhook", func(c *gin.Context) {
		c.Status(http.StatusUnauthorized)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/telegram/verification-status?handle=alice_art&ref=mail+a@b.com", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set("X-Custom", "ping @alice_art with 482913")
	r.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/telegram/webhook", nil)
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "hook-secret")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, leaked := range []string{"alice_art", "Bearer secret", "shhh", "482913", "a@b.com", "hook-secret"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("log leaked %q:\n%s", leaked, out)
		}
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 access log lines, got %d:\n%s", len(lines), out)
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first["level"] != "info" || first["message"] != "http_request" || first["query"] != "handle=[REDACTED]&ref=mail [REDACTED:email]" {
		t.Fatalf("first line = %v", first)
	}
	if second["level"] != "warn" || second["status"] != float64(http.StatusUnauthorized) {
		t.Fatalf("second line = %v", second)
	}
	headers, _ := second["headers"].(map[string]any)
	if headers["X-Telegram-Bot-Api-Secret-Token"] != "[REDACTED]" {
		t.Fatalf("secret token header not masked: %v", headers)
	}
}

func TestRedactingLogger_ErrorLevelOnHandlerError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("send to 15551234567 failed"))
		c.Status(http.StatusBadGateway)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, "[REDACTED:phone]") {
		t.Fatalf("expected redacted error log, got:\n%s", out)
	}
}
