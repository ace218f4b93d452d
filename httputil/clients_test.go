package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dealerscan/config"
)

func TestNewClients_ProxyOnlyWhenConfigured(t *testing.T) {
	c := NewClients(config.ProxyConfig{URL: "http://proxy.local:3128"}, 0)
	tr := c.Scraping.Transport.(*http.Transport)

	req := httptest.NewRequest(http.MethodGet, "https://dealer.example.com/", nil)
	proxy, err := tr.Proxy(req)
	if err != nil {
		t.Fatalf("proxy func failed: %v", err)
	}
	if proxy == nil || proxy.Host != "proxy.local:3128" {
		t.Fatalf("expected configured proxy, got %v", proxy)
	}
	if c.Scraping.Timeout != 60*time.Second {
		t.Fatalf("expected default timeout, got %v", c.Scraping.Timeout)
	}
}

func TestScrapingClient_FollowsRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/inventory", http.StatusMovedPermanently)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClients(config.ProxyConfig{}, time.Second)
	resp, err := c.Scraping.Get(srv.URL + "/old")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected redirect to be followed, got %d", resp.StatusCode)
	}
}
