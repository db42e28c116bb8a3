package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/authgw/internal/backend"
	"github.com/vyrodovalexey/authgw/internal/observability"
)

// Defaults for Forwarder options.
const (
	DefaultRoutePrefix     = "/api/proxy"
	DefaultIdentityHeader  = "x-user-id"
	DefaultMultipartMemory = 32 << 20
)

const tracerName = "authgw/proxy"

// Route is an inbound path split into the service name and the path to
// forward. Path keeps its original escaping and is empty or starts with "/".
type Route struct {
	Service string
	Path    string
}

// SplitRoute strips prefix from an escaped request path and splits off the
// service segment.
func SplitRoute(escapedPath, prefix string) (Route, bool) {
	rest, ok := strings.CutPrefix(escapedPath, prefix)
	if !ok || (rest != "" && rest[0] != '/') {
		return Route{}, false
	}

	segment, path, found := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	service, err := url.PathUnescape(segment)
	if err != nil || service == "" {
		return Route{}, false
	}
	if found {
		path = "/" + path
	}
	return Route{Service: service, Path: path}, true
}

// TargetURL joins a backend base URL, an escaped path and a raw query. The
// query is appended verbatim.
func TargetURL(base *url.URL, path, rawQuery string) string {
	target := base.String() + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Forwarder rebuilds inbound requests for their backend and sends them.
type Forwarder struct {
	registry        *backend.Registry
	client          *http.Client
	routePrefix     string
	identityHeader  string
	multipartMemory int64
	logger          observability.Logger
	metrics         *Metrics
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithRoutePrefix sets the gateway path prefix stripped before forwarding.
func WithRoutePrefix(prefix string) ForwarderOption {
	return func(f *Forwarder) {
		f.routePrefix = strings.TrimRight(prefix, "/")
	}
}

// WithIdentityHeader sets the header that carries the subject to backends.
func WithIdentityHeader(name string) ForwarderOption {
	return func(f *Forwarder) {
		if name != "" {
			f.identityHeader = name
		}
	}
}

// WithMultipartMemory sets how many bytes of a multipart body are held in
// memory before parts spill to temporary files.
func WithMultipartMemory(n int64) ForwarderOption {
	return func(f *Forwarder) {
		if n > 0 {
			f.multipartMemory = n
		}
	}
}

// WithForwarderLogger sets the logger.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithForwarderMetrics sets the metrics recorder.
func WithForwarderMetrics(m *Metrics) ForwarderOption {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// NewForwarder creates a forwarder that routes through registry.
func NewForwarder(registry *backend.Registry, client *http.Client, opts ...ForwarderOption) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}

	f := &Forwarder{
		registry:        registry,
		client:          client,
		routePrefix:     DefaultRoutePrefix,
		identityHeader:  DefaultIdentityHeader,
		multipartMemory: DefaultMultipartMemory,
		logger:          observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// RoutePrefix returns the configured path prefix.
func (f *Forwarder) RoutePrefix() string {
	return f.routePrefix
}

// outbound is the body half of a forward request descriptor.
type outbound struct {
	body        io.Reader
	length      int64
	contentType string
}

// Forward sends r to its backend on behalf of subject. The caller owns the
// returned response body. Failures are *ProxyError values matching
// ErrUnknownService, ErrMalformedBody, ErrBodyTooLarge or
// ErrBackendUnreachable. Nothing is retried.
func (f *Forwarder) Forward(ctx context.Context, r *http.Request, subject string) (*http.Response, error) {
	route, ok := SplitRoute(r.URL.EscapedPath(), f.routePrefix)
	if !ok {
		f.metrics.recordError(observability.UnknownService, "unknown_service")
		return nil, NewUnknownServiceError("")
	}

	svc, ok := f.registry.Lookup(route.Service)
	if !ok {
		f.metrics.recordError(observability.UnknownService, "unknown_service")
		return nil, NewUnknownServiceError(route.Service)
	}

	target := TargetURL(svc.BaseURL, route.Path, r.URL.RawQuery)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "proxy.Forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("proxy.service", svc.Name),
			attribute.String("http.method", r.Method),
			attribute.String("http.url", target),
		),
	)
	defer span.End()

	body, err := f.outboundBody(r, svc.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, target, body.body)
	if err != nil {
		closeBody(body.body)
		f.metrics.recordError(svc.Name, "backend_unreachable")
		return nil, NewBackendUnreachableError(svc.Name, target, err)
	}
	out.ContentLength = body.length
	f.setHeaders(ctx, out, r, subject, body.contentType)

	start := time.Now()
	resp, err := f.client.Do(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			f.metrics.recordError(svc.Name, "body_too_large")
			return nil, NewBodyTooLargeError(svc.Name, err)
		}

		f.metrics.recordError(svc.Name, "backend_unreachable")
		f.logger.WithContext(ctx).Warn("backend unreachable",
			observability.String("service", svc.Name),
			observability.String("target", target),
			observability.Error(err),
		)
		return nil, NewBackendUnreachableError(svc.Name, target, err)
	}

	f.metrics.recordBackend(svc.Name, r.Method, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	f.logger.WithContext(ctx).Debug("request forwarded",
		observability.String("service", svc.Name),
		observability.String("method", r.Method),
		observability.String("target", target),
		observability.String("status", resp.Status),
		observability.Duration("duration", time.Since(start)),
	)

	return resp, nil
}

// outboundBody picks the body strategy from the inbound content type:
// multipart forms are parsed and re-encoded with a fresh boundary,
// anything else is streamed through untouched.
func (f *Forwarder) outboundBody(r *http.Request, service string) (outbound, error) {
	contentType := r.Header.Get("Content-Type")

	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "multipart/form-data" {
		return f.multipartBody(r, service)
	}

	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return outbound{contentType: contentType}, nil
	}

	return outbound{body: r.Body, length: r.ContentLength, contentType: contentType}, nil
}

func (f *Forwarder) multipartBody(r *http.Request, service string) (outbound, error) {
	if err := r.ParseMultipartForm(f.multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			f.metrics.recordError(service, "body_too_large")
			return outbound{}, NewBodyTooLargeError(service, err)
		}
		f.metrics.recordError(service, "malformed_body")
		return outbound{}, NewMalformedBodyError(service, err)
	}

	form := r.MultipartForm
	f.metrics.recordParts(countValues(form.Value), countFiles(form.File))

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, form))
	}()

	return outbound{body: pr, length: -1, contentType: mw.FormDataContentType()}, nil
}

// writeForm encodes form into mw. Fields come first, then files, each in
// name order.
func writeForm(mw *multipart.Writer, form *multipart.Form) error {
	for _, name := range slices.Sorted(maps.Keys(form.Value)) {
		for _, value := range form.Value[name] {
			if err := mw.WriteField(name, value); err != nil {
				return err
			}
		}
	}

	for _, name := range slices.Sorted(maps.Keys(form.File)) {
		for _, fh := range form.File[name] {
			if err := writeFile(mw, name, fh); err != nil {
				return err
			}
		}
	}

	return mw.Close()
}

func writeFile(mw *multipart.Writer, name string, fh *multipart.FileHeader) error {
	part, err := mw.CreatePart(partHeader(name, fh))
	if err != nil {
		return err
	}

	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open part %s: %w", fh.Filename, err)
	}
	defer func() { _ = src.Close() }()

	_, err = io.Copy(part, src)
	return err
}

// partHeader reuses the inbound part headers so the filename and content
// type survive the re-encode.
func partHeader(name string, fh *multipart.FileHeader) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader, len(fh.Header))
	for k, v := range fh.Header {
		h[k] = slices.Clone(v)
	}
	if h.Get("Content-Disposition") == "" {
		h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     name,
			"filename": fh.Filename,
		}))
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/octet-stream")
	}
	return h
}

// setHeaders builds the outbound header set from an allow-list. The
// inbound Authorization header, cookies and any caller-supplied identity
// header are never copied.
func (f *Forwarder) setHeaders(ctx context.Context, out, in *http.Request, subject, contentType string) {
	if contentType != "" {
		out.Header.Set("Content-Type", contentType)
	}
	if accept := in.Header.Values("Accept"); len(accept) > 0 {
		out.Header["Accept"] = slices.Clone(accept)
	}
	out.Header.Set("Cache-Control", "no-store")

	if id := observability.RequestIDFromContext(ctx); id != "" {
		out.Header.Set(observability.RequestIDHeader, id)
	}

	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	if in.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	out.Header.Set("X-Forwarded-Host", in.Host)

	out.Header.Set(f.identityHeader, subject)

	observability.InjectTraceContext(ctx, out)
}

func countValues(m map[string][]string) int {
	n := 0
	for _, v := range m {
		n += len(v)
	}
	return n
}

func countFiles(m map[string][]*multipart.FileHeader) int {
	n := 0
	for _, v := range m {
		n += len(v)
	}
	return n
}

func closeBody(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}
