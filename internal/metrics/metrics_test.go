package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.OAuthLogin("Google", ResultOK)
	c.OAuthLogin("Google", ResultOK)
	c.OAuthLogin("Facebook", ResultError)
	c.PasswordLogin(ResultRejected)
	c.SignUp(ResultConflict)
	c.GuardRejection("scheme")
	c.MergeDuration(12 * time.Millisecond)

	if got := testutil.ToFloat64(c.oauthLogins.WithLabelValues("Google", ResultOK)); got != 2 {
		t.Errorf("google ok = %v", got)
	}
	if got := testutil.ToFloat64(c.oauthLogins.WithLabelValues("Facebook", ResultError)); got != 1 {
		t.Errorf("facebook error = %v", got)
	}
	if got := testutil.ToFloat64(c.signUps.WithLabelValues(ResultConflict)); got != 1 {
		t.Errorf("signup conflict = %v", got)
	}
	if n := testutil.CollectAndCount(c.mergeDuration); n != 1 {
		t.Errorf("merge histogram series = %d", n)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.PasswordLogin(ResultOK)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `identity_password_logins_total{result="ok"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
