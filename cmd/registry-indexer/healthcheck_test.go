package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()
	client := &http.Client{Timeout: time.Second}

	assert.NoError(t, probe(client, srv.URL))

	status.Store(http.StatusServiceUnavailable)
	assert.ErrorContains(t, probe(client, srv.URL), "status 503")
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	assert.ErrorContains(t, probe(&http.Client{Timeout: time.Second}, url), "healthcheck failed")
}
