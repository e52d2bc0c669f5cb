package utils

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

func baseTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
		DisableKeepAlives:   false,
	}
}

// ProxyRotator hands out requests round robin over SOCKS5 proxies.
// With no proxies it behaves like a plain pooled transport.
type ProxyRotator struct {
	mu         sync.Mutex
	transports []*http.Transport
	next       int
}

// NewProxyRotator builds one transport per "host:port" entry, optional "user:pass@" prefix
func NewProxyRotator(addrs []string) (*ProxyRotator, error) {
	r := &ProxyRotator{}
	for _, addr := range addrs {
		var auth *proxy.Auth
		if at := strings.LastIndexByte(addr, '@'); at >= 0 {
			creds := addr[:at]
			addr = addr[at+1:]
			user, pass := creds, ""
			if c := strings.LastIndexByte(creds, ':'); c >= 0 {
				user, pass = creds[:c], creds[c+1:]
			}
			auth = &proxy.Auth{User: user, Password: pass}
		}

		dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}

		t := baseTransport()
		t.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.Dial(network, address)
			}
		}
		r.transports = append(r.transports, t)
	}
	if len(r.transports) == 0 {
		r.transports = []*http.Transport{baseTransport()}
	}
	return r, nil
}

func (r *ProxyRotator) RoundTrip(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	t := r.transports[r.next]
	r.next = (r.next + 1) % len(r.transports)
	r.mu.Unlock()
	return t.RoundTrip(req)
}

// Size returns the number of underlying transports
func (r *ProxyRotator) Size() int {
	return len(r.transports)
}

// NewHTTPClient returns a client that goes through the rotator
func NewHTTPClient(timeout time.Duration, proxies []string) (*http.Client, error) {
	rt, err := NewProxyRotator(proxies)
	if err != nil {
		return nil, err
	}
	return &http.Client{Timeout: timeout, Transport: rt}, nil
}
