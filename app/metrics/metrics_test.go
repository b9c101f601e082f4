package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	lbl := "test-queue"

	MessagesHandled.WithLabelValues(lbl, "acked").Inc()
	if v := testutil.ToFloat64(MessagesHandled.WithLabelValues(lbl, "acked")); v < 1 {
		t.Fatalf("expected MessagesHandled >= 1, got %v", v)
	}

	RPCCalls.WithLabelValues(lbl, "408").Add(2)
	if v := testutil.ToFloat64(RPCCalls.WithLabelValues(lbl, "408")); v < 2 {
		t.Fatalf("expected RPCCalls >= 2, got %v", v)
	}

	Publishes.WithLabelValues(lbl, "failed").Inc()
	if v := testutil.ToFloat64(Publishes.WithLabelValues(lbl, "failed")); v < 1 {
		t.Fatalf("expected Publishes >= 1, got %v", v)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	MailSends.WithLabelValues("noop", "success").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mailer_mail_send_total") {
		t.Fatalf("expected mailer_mail_send_total in output")
	}
}
