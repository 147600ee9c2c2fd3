package server

import (
	"net/http"
	"testing"
	"time"
)

func TestNew_WriteTimeoutCoversLockWait(t *testing.T) {
	srv := New(":0", http.NotFoundHandler(), 15*time.Second)
	if srv.WriteTimeout <= 15*time.Second {
		t.Fatalf("WriteTimeout %v does not exceed lock wait", srv.WriteTimeout)
	}
	if srv.ReadTimeout != 10*time.Second || srv.IdleTimeout != 60*time.Second {
		t.Fatalf("unexpected timeouts: %+v", srv)
	}
}
