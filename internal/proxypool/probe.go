package proxypool

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// TestIdentity probes an identity with a single request to the
// configured test URL. SOCKS addresses are dialed through x/net/proxy,
// everything else as an HTTP proxy.
func (p *Pool) TestIdentity(ctx context.Context, address string) bool {
	client, err := p.testClient(address)
	if err != nil {
		log.Debugf("Proxy test setup failed for %s: %v", truncate(address, 50), err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.TestURL, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Debugf("Proxy test failed for %s: %v", truncate(address, 50), err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

func (p *Pool) testClient(address string) (*http.Client, error) {
	const timeout = 10 * time.Second

	if strings.HasPrefix(address, "socks") {
		target := strings.TrimPrefix(strings.TrimPrefix(address, "socks5://"), "socks4://")
		dialer, err := proxy.SOCKS5("tcp", target, nil, proxy.Direct)
		if err != nil {
			return nil, err
		}
		transport := &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
		return &http.Client{Transport: transport, Timeout: timeout}, nil
	}

	proxyURL, err := url.Parse(address)
	if err != nil {
		return nil, err
	}
	if proxyURL.Scheme == "" {
		proxyURL, err = url.Parse("http://" + address)
		if err != nil {
			return nil, err
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
