package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestCollectorsExposed(t *testing.T) {
	OrdersTotal.WithLabelValues("BTCUSDT", "LONG").Inc()
	ClosesTotal.WithLabelValues("BTCUSDT", "trailing").Inc()
	OpenPositions.Set(1)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{"bot_orders_total", "bot_closes_total", "bot_open_positions"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %s in metrics output", want)
		}
	}
}
