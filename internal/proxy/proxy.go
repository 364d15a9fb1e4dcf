// Package proxy implements the reverse proxy between the browser and
// the origin server. Each inbound request is either passed through
// untouched, rerouted to the asset port, or buffered and rewritten so
// live assets resolve correctly through the proxy.
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/http2"

	"github.com/storewatch/storewatch/internal/errors"
	"github.com/storewatch/storewatch/internal/logging"
)

// InternalHandler serves proxy-internal routes, returning false when
// the request should fall through to normal proxying.
type InternalHandler func(w http.ResponseWriter, r *http.Request) bool

// InjectFunc inserts live-reload markup into a document body.
type InjectFunc func(html, proxyOrigin string) string

// Options configures a Proxy.
type Options struct {
	// Origin is the origin server's base URL.
	Origin *url.URL
	// ProxyBase is this proxy's absolute origin as browsers see it.
	ProxyBase string
	// AssetBase is the script dev server's absolute origin.
	AssetBase string
	// Internal handles the sidecar's routes before any proxying.
	Internal InternalHandler
	// Extra maps additional internal paths (the script feedback
	// websocket) to their handlers.
	Extra map[string]http.Handler
	// Inject inserts the live-reload markup into rewritten documents.
	Inject InjectFunc
	// Fatal handles configuration-class transport errors. The default
	// prints the remediation message and exits non-zero, since retries
	// cannot fix broken trust or DNS setup.
	Fatal func(*errors.ProxyError)

	Logger logging.Logger
}

// Proxy routes browser requests to the origin, the asset server, or the
// internal handlers.
type Proxy struct {
	opts        Options
	rewriter    *Rewriter
	originProxy *httputil.ReverseProxy
	assetProxy  *httputil.ReverseProxy
	logger      logging.Logger
}

// New creates the proxy. Origin responses are waited for indefinitely;
// only TLS handshake and DNS failures fail fast.
func New(opts Options) (*Proxy, error) {
	if opts.Origin == nil {
		return nil, fmt.Errorf("proxy requires an origin URL")
	}

	logger := opts.Logger.WithComponent("proxy")

	p := &Proxy{
		opts:   opts,
		logger: logger,
		rewriter: &Rewriter{
			OriginBase: strings.TrimSuffix(opts.Origin.String(), "/"),
			ProxyBase:  opts.ProxyBase,
			AssetBase:  opts.AssetBase,
		},
	}

	if p.opts.Fatal == nil {
		p.opts.Fatal = func(perr *errors.ProxyError) {
			logger.Error(context.Background(), perr.Cause, perr.Remediation)
			os.Exit(1)
		}
	}

	transport := &http.Transport{
		TLSClientConfig:   &tls.Config{},
		ForceAttemptHTTP2: true,
		// No artificial timeout toward the origin; developer tooling
		// waits as long as the origin takes.
		ResponseHeaderTimeout: 0,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configuring origin transport: %w", err)
	}

	p.originProxy = &httputil.ReverseProxy{
		Director:       p.direct,
		Transport:      transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
	}

	if opts.AssetBase != "" {
		assetURL, err := url.Parse(opts.AssetBase)
		if err != nil {
			return nil, fmt.Errorf("parsing asset origin: %w", err)
		}
		p.assetProxy = httputil.NewSingleHostReverseProxy(assetURL)
	}

	return p, nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.opts.Internal != nil && p.opts.Internal(w, r) {
		return
	}

	if handler, ok := p.opts.Extra[r.URL.Path]; ok {
		handler.ServeHTTP(w, r)
		return
	}

	// Bundler-internal asset requests bypass the origin entirely.
	if p.assetProxy != nil && isHMRAssetPath(r.URL.Path) {
		p.assetProxy.ServeHTTP(w, r)
		return
	}

	p.originProxy.ServeHTTP(w, r)
}

// isHMRAssetPath recognizes hot-module-reload asset paths that belong
// to the script dev server.
func isHMRAssetPath(path string) bool {
	return strings.HasPrefix(path, HMRPathPrefix) ||
		strings.HasPrefix(path, "/sockjs-node/") ||
		path == "/esbuild"
}

func (p *Proxy) direct(req *http.Request) {
	req.URL.Scheme = p.opts.Origin.Scheme
	req.URL.Host = p.opts.Origin.Host
	req.Host = p.opts.Origin.Host

	// Rewritten responses are buffered as text; ask the origin to skip
	// content encoding for them.
	if p.needsRewrite(req) {
		req.Header.Set("Accept-Encoding", "identity")
	}
}

// needsRewrite classifies a request as requiring body rewriting: a
// full-document navigation, or one of the known fragment endpoints.
func (p *Proxy) needsRewrite(req *http.Request) bool {
	if IsFragmentPath(req.URL.Path) {
		return true
	}
	return IsDocumentRequest(
		req.Header.Get("Sec-Fetch-Mode"),
		req.Header.Get("Sec-Fetch-Dest"),
		req.Header.Get("Accept"),
	)
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	req := resp.Request
	if req == nil || !p.needsRewrite(req) {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	body := p.rewriter.RewriteDocument(string(raw))

	switch {
	case strings.HasPrefix(req.URL.Path, lineItemPath):
		body = p.rewriter.RewriteLineItemFragment(body)
	case strings.HasPrefix(req.URL.Path, offcanvasPath):
		body = p.rewriter.AppendOffcanvasScript(body, req.URL.Query())
	default:
		if p.opts.Inject != nil {
			body = p.opts.Inject(body, p.opts.ProxyBase)
		}
	}

	resp.Body = io.NopCloser(strings.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", fmt.Sprint(len(body)))
	resp.Header.Del("Content-Encoding")
	return nil
}

// handleError categorizes transport failures. Configuration-class
// failures terminate the process with a remediation message; anything
// else answers the request with HTTP 500.
func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	perr := errors.CategorizeProxyError(err)
	if perr.Fatal() {
		p.opts.Fatal(perr)
		return
	}

	p.logger.Error(r.Context(), err, "proxy request failed", "path", r.URL.Path)
	http.Error(w, "proxy request failed", http.StatusInternalServerError)
}
