package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListenKeyClient_Acquire(t *testing.T) {
	var gotKey, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotMethod = r.Method
		if r.URL.Path != "/fapi/v1/listenKey" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"listenKey":"pqia91ma19a5s61cv6a81va65sdf19v8a65a1a5s61cv6a81va65sdf19v8a65a1"}`))
	}))
	defer srv.Close()

	c := NewListenKeyClient("test-api-key", srv.URL)
	key, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if key == "" {
		t.Fatalf("empty listen key")
	}
	if gotKey != "test-api-key" {
		t.Fatalf("api key header got=%q", gotKey)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method got=%s want=POST", gotMethod)
	}
}

func TestListenKeyClient_AcquireEmptyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewListenKeyClient("k", srv.URL)
	if _, err := c.Acquire(context.Background()); err == nil {
		t.Fatalf("empty listenKey should be an error")
	}
}

func TestListenKeyClient_KeepAlive(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewListenKeyClient("k", srv.URL)
	if err := c.KeepAlive(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("method got=%s want=PUT", gotMethod)
	}
}

// -1125 表示 listenKey 已失效，要换成专用错误让上层重建连接。
func TestListenKeyClient_KeepAliveExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1125,"msg":"This listenKey does not exist."}`))
	}))
	defer srv.Close()

	c := NewListenKeyClient("k", srv.URL)
	if err := c.KeepAlive(context.Background()); err != ErrListenKeyExpired {
		t.Fatalf("got err=%v want=ErrListenKeyExpired", err)
	}
}

func TestListenKeyClient_Close(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewListenKeyClient("k", srv.URL)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("method got=%s want=DELETE", gotMethod)
	}
}
