// Package rpc implements C5 (method dispatch, privilege gating, param
// normalization, result shaping) and C7 (the typed error model and its
// mapping to JSON-RPC error envelopes). See spec.md §4.5/§4.7/§6.
//
// Grounded on internal/daemon/api.go's writeJSON/writeError/decodeJSON
// trio and its doc-comment-per-endpoint listing style in the teacher,
// adapted from REST routes to a JSON-RPC method table; internal/daemon/
// control_auth.go's loopback/CIDR gate for the administrative privilege
// class.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/zonemaster/broker/internal/config"
	"github.com/zonemaster/broker/internal/dnsutil"
	"github.com/zonemaster/broker/internal/store"
	"github.com/zonemaster/broker/internal/translate"
	"github.com/zonemaster/broker/internal/validate"
)

const maxParamsBytes = 1 << 20 // 1MB, mirrors the teacher's maxJSONBytes

// Request is one JSON-RPC call. The "jsonrpc" field's value is accepted but
// not enforced (spec.md §4.5's documented deviation).
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is either {id, result} or {id, error}, never both.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *errorBody      `json:"error,omitempty"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// handlerFunc decodes req.Params, performs the method's side effects, and
// returns the value to marshal into Response.Result.
type handlerFunc func(ctx context.Context, s *Server, raw json.RawMessage) (any, error)

type methodEntry struct {
	handler       handlerFunc
	administrative bool
}

// Server wires C1 (validate), C2 (fingerprint, used inside store), C3
// (store), C4's dispatcher contract (exposed separately, not over this
// RPC surface), C6 (translate), and configuration together into the
// method table spec.md §6 enumerates.
type Server struct {
	Store   *store.Store
	Lookup  *dnsutil.Lookup
	Catalog *translate.Catalog
	Config  config.Config
	Logger  *log.Logger

	// Observer receives per-call telemetry hooks; nil disables them. Kept
	// as an interface rather than a concrete *daemon.Metrics to avoid
	// internal/rpc importing internal/daemon for a single counter bump.
	Observer Observer

	// RateLimiter throttles the administrative method class per caller IP.
	// nil disables rate limiting entirely. Satisfied by *daemon.IPRateLimiter
	// without internal/rpc importing internal/daemon (which itself wires an
	// *rpc.Server, and would otherwise form an import cycle).
	RateLimiter RateLimiter
}

// RateLimiter throttles calls from a given remote address.
type RateLimiter interface {
	Allow(remoteAddr string) bool
}

// Observer is the narrow seam Server uses to report call outcomes, so
// internal/daemon's Metrics can stay decoupled from internal/rpc.
type Observer interface {
	IncRPCRequest(method string)
	IncRPCError(method, code string)
	ObserveRPCDuration(method string, d time.Duration)
}

var methods map[string]methodEntry

func init() {
	methods = map[string]methodEntry{
		"version_info":              {handler: handleVersionInfo},
		"profile_names":             {handler: handleProfileNames},
		"get_language_tags":         {handler: handleGetLanguageTags},
		"get_host_by_name":          {handler: handleGetHostByName},
		"get_data_from_parent_zone": {handler: handleGetDataFromParentZone},
		"start_domain_test":         {handler: handleStartDomainTest},
		"test_progress":            {handler: handleTestProgress},
		"get_test_results":         {handler: handleGetTestResults},
		"get_test_history":         {handler: handleGetTestHistory},
		"get_test_params":          {handler: handleGetTestParams},
		"add_api_user":             {handler: handleAddAPIUser, administrative: true},
		"add_batch_job":            {handler: handleAddBatchJob},
		"get_batch_job_result":     {handler: handleGetBatchJobResult},
	}
}

// loopbackAddresses are the three forms spec.md §4.5 names explicitly for
// the administrative privilege class.
var loopbackAddresses = map[string]struct{}{
	"127.0.0.1":      {},
	"::1":            {},
	"::ffff:127.0.0.1": {},
}

func isLoopback(remoteIP string) bool {
	if _, ok := loopbackAddresses[remoteIP]; ok {
		return true
	}
	ip := net.ParseIP(remoteIP)
	return ip != nil && ip.IsLoopback()
}

// Handle dispatches a single decoded Request and never panics: handler
// panics are recovered and reported as InternalError, matching the
// teacher's pattern of never letting one bad request take the process
// down.
func (s *Server) Handle(ctx context.Context, req Request, remoteIP string) (resp Response) {
	start := time.Now()
	resp = Response{ID: req.ID}

	defer func() {
		if r := recover(); r != nil {
			resp = s.errorResponse(req.ID, &InternalError{Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	if req.Method == "" {
		return s.errorResponse(req.ID, methodNotFound(""))
	}
	entry, ok := methods[req.Method]
	if !ok {
		return s.errorResponse(req.ID, methodNotFound(req.Method))
	}

	if s.Observer != nil {
		s.Observer.IncRPCRequest(req.Method)
	}

	if entry.administrative {
		if !s.administrativeMethodsEnabled(req.Method) {
			return s.finish(req.Method, start, s.errorResponse(req.ID, methodNotFound(req.Method)))
		}
		if !isLoopback(remoteIP) {
			return s.finish(req.Method, start, s.errorResponse(req.ID, &PermissionError{RemoteIP: remoteIP}))
		}
		if s.RateLimiter != nil && !s.RateLimiter.Allow(remoteIP) {
			return s.finish(req.Method, start, s.errorResponse(req.ID, &InternalError{Err: fmt.Errorf("rate limit exceeded for %s", remoteIP)}))
		}
	}

	result, err := entry.handler(contextWithRequestID(ctx), s, req.Params)
	if err != nil {
		return s.finish(req.Method, start, s.errorResponse(req.ID, err))
	}
	resp.Result = result
	return s.finish(req.Method, start, resp)
}

func (s *Server) administrativeMethodsEnabled(method string) bool {
	switch method {
	case "add_api_user":
		return s.Config.EnableAddAPIUser
	default:
		return true
	}
}

func (s *Server) finish(method string, start time.Time, resp Response) Response {
	if s.Observer != nil {
		s.Observer.ObserveRPCDuration(method, time.Since(start))
		if resp.Error != nil {
			s.Observer.IncRPCError(method, fmt.Sprint(resp.Error.Code))
		}
	}
	return resp
}

// errorResponse maps any error value to a JSON-RPC error envelope per the
// taxonomy in spec.md §4.7/§7.
func (s *Server) errorResponse(id json.RawMessage, err error) Response {
	resp := Response{ID: id}
	switch e := err.(type) {
	case validate.Errors:
		data := make([]map[string]string, len(e))
		for i, p := range e {
			data[i] = map[string]string{"path": p.Path, "message": p.Message}
		}
		resp.Error = &errorBody{Code: CodeInvalidParams, Message: "Invalid params", Data: data}
	case *methodNotFoundError:
		resp.Error = &errorBody{Code: CodeMethodNotFound, Message: "Method not found"}
	case *UserError:
		resp.Error = &errorBody{Code: CodeInternalError, Message: e.Message, Data: e.Data}
	case *PermissionError:
		if s.Logger != nil {
			s.Logger.Printf("rpc: permission denied from %s", e.RemoteIP)
		}
		resp.Error = &errorBody{Code: CodeInternalError, Message: "Administrative methods are restricted to loopback callers", Data: map[string]string{"remote_ip": e.RemoteIP}}
	case *InternalError:
		if s.Logger != nil {
			s.Logger.Printf("rpc: internal error: %v", e.Err)
		}
		resp.Error = &errorBody{Code: CodeInternalError, Message: e.Err.Error()}
	default:
		if s.Logger != nil {
			s.Logger.Printf("rpc: unclassified error: %v", err)
		}
		resp.Error = &errorBody{Code: CodeInternalError, Message: err.Error()}
	}
	return resp
}

type methodNotFoundError struct{ method string }

func (e *methodNotFoundError) Error() string { return "method not found: " + e.method }

func methodNotFound(method string) error { return &methodNotFoundError{method: method} }

type requestIDKey struct{}

func contextWithRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestIDKey{}, uuid.NewString())
}

// RequestID returns the correlation id Handle attached to ctx, for log
// lines inside handlers. Grounded on the request/resource-id idiom the
// celestiaorg-knuu, cuemby-warren, and halidrauf-Continuum example repos
// all use google/uuid for.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// decodeParams decodes raw into dest, rejecting unknown fields and
// trailing data. Params may legitimately be absent (nil/empty), in which
// case dest is left at its zero value. Mirrors the teacher's
// decodeJSON, generalized from an http.Request body to a json.RawMessage.
func decodeParams(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	if len(raw) > maxParamsBytes {
		return fmt.Errorf("params too large")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return errors.New("unexpected trailing data in params")
	}
	return nil
}
