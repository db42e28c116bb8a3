// Package proxy forwards authenticated requests to backend services.
//
// A request for <prefix>/<service>/<path>?<query> is sent to the service's
// base URL joined with <path>, with the query string copied verbatim and
// the resolved subject carried in the identity header (x-user-id by
// default). The caller's Authorization header and cookies are never
// forwarded.
//
// Multipart form bodies are parsed and re-encoded with a new boundary so
// field names, file names and part content types survive. Every other
// body is streamed through unchanged together with its Content-Type.
//
// Relay copies the backend status, Content-Type and body back to the
// caller. Handler ties credential extraction, identity resolution,
// forwarding and relay together as a gin handler:
//
//	h := proxy.NewHandler(extractor, resolver, forwarder, logger)
//	router.Any(prefix+"/:service/*path", h.Handle)
package proxy
