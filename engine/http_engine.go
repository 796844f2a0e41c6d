package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html"
)

const (
	chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxBody  = 10 << 20
)

var (
	chromeSpecOnce sync.Once
	chromeSpec     *tls.ClientHelloSpec
)

// chromeHTTP1Spec returns a Chrome ClientHello with ALPN pinned to
// http/1.1, since http.Transport cannot speak h2 over a utls conn. It
// returns nil if utls cannot build the spec.
func chromeHTTP1Spec() *tls.ClientHelloSpec {
	chromeSpecOnce.Do(func() {
		spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
		if err != nil {
			return
		}
		for _, ext := range spec.Extensions {
			if alpn, ok := ext.(*tls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
				break
			}
		}
		chromeSpec = &spec
	})
	return chromeSpec
}

// HTTPFetcher fetches pages with a Chrome-like TLS fingerprint. Proxy
// settings are never taken from the environment; only an explicit proxy is
// used.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher. proxy may be empty.
func NewHTTPFetcher(proxy string) *HTTPFetcher {
	transport := &http.Transport{
		Proxy:             nil,
		DialTLSContext:    dialChromeTLS,
		ForceAttemptHTTP2: false,
	}
	if proxy != "" {
		if u, err := url.Parse(proxy); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

func dialChromeTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)

	var tlsConn *tls.UConn
	if spec := chromeHTTP1Spec(); spec != nil {
		tlsConn = tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
		if err := tlsConn.ApplyPreset(spec); err != nil {
			conn.Close()
			return nil, fmt.Errorf("engine: apply tls spec: %w", err)
		}
	} else {
		tlsConn = tls.UClient(conn, &tls.Config{ServerName: host, NextProtos: []string{"http/1.1"}}, tls.HelloChrome_Auto)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// Fetch GETs req.URL. Responses with status >= 400 or a non-HTML content
// type come back as *StatusError.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", chromeUA)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "identity")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("engine: read body: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 400 || !isHTMLContentType(ct) {
		return nil, &StatusError{StatusCode: resp.StatusCode, ContentType: ct}
	}

	doc := string(body)
	return &FetchResult{
		HTML:       doc,
		Title:      extractTitle(doc),
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// extractTitle returns the text of the first <title> element.
func extractTitle(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}
