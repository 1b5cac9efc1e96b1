// Package toolproto is the thin request/response glue between an outer
// tool-calling surface and the cache/refresh/slackapi core. Spec.md §1
// marks the framing layer itself out of scope ("specified only by the
// interfaces the core exposes"); this package is the minimal reachable
// surface that lets every core operation be exercised end to end, kept
// deliberately small. Its read-line -> dispatch -> write-response shape
// generalizes the teacher's Chat.Run loop (readline.Instance -> parse
// intent -> dispatch on intent.Type -> print) to a non-interactive,
// line-delimited JSON-RPC framing over arbitrary reader/writer pairs.
package toolproto

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/wscache/wscache/internal/protoerr"
)

// Request is one line of input: a tool name, an opaque id the caller
// uses to match it to a Response, and tool-specific params.
type Request struct {
	ID     string          `json:"id"`
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// Response is one line of output, echoing the request's id.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *errorBody      `json:"error,omitempty"`
}

type errorBody struct {
	Code      string `json:"code"`
	Detail    string `json:"detail"`
	Retriable bool   `json:"retriable,omitempty"`
}

// Handler executes one tool call and returns a JSON-marshalable result
// or a protocol-layer error.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Registry maps tool names to their handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under name, overwriting any prior registration.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Server reads one Request per line from in and writes one Response per
// line to out, dispatching through reg. It never mutates process-global
// state directly; every side effect lives in the handlers reg dispatches
// to.
type Server struct {
	in  *bufio.Scanner
	out io.Writer
	reg *Registry
	log zerolog.Logger
}

// NewServer builds a Server over in/out using reg's handlers.
func NewServer(in io.Reader, out io.Writer, reg *Registry, log zerolog.Logger) *Server {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Server{
		in:  scanner,
		out: out,
		reg: reg,
		log: log.With().Str("component", "toolproto").Logger(),
	}
}

// Run reads requests until in is exhausted, ctx is cancelled, or a write
// to out fails. Each request is handled synchronously and in order —
// spec.md never asks for concurrent in-flight tool calls per connection,
// and serializing keeps the lock-manager contention scenarios (S4)
// exercised by concurrent *connections*, not request reordering within one.
func (s *Server) Run(ctx context.Context) error {
	for s.in.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := s.in.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if writeErr := s.writeResponse(Response{
				Error: &errorBody{Code: protoerr.InvalidParameter.String(), Detail: fmt.Sprintf("malformed request line: %v", err)},
			}); writeErr != nil {
				return writeErr
			}
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := s.writeResponse(resp); err != nil {
			return err
		}
	}
	return s.in.Err()
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	handler, ok := s.reg.handlers[req.Tool]
	if !ok {
		return Response{ID: req.ID, Error: &errorBody{
			Code:   protoerr.InvalidParameter.String(),
			Detail: fmt.Sprintf("unknown tool %q", req.Tool),
		}}
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		s.log.Warn().Str("tool", req.Tool).Err(err).Msg("tool call failed")
		return Response{ID: req.ID, Error: toErrorBody(err)}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: &errorBody{
			Code:   protoerr.Internal.String(),
			Detail: fmt.Sprintf("marshal result: %v", err),
		}}
	}
	return Response{ID: req.ID, Result: raw}
}

func toErrorBody(err error) *errorBody {
	var pe *protoerr.Error
	if e, ok := err.(*protoerr.Error); ok {
		pe = e
	} else {
		pe = protoerr.Wrap(protoerr.Internal, "unclassified error", err)
	}
	return &errorBody{Code: pe.Code.String(), Detail: pe.Detail, Retriable: pe.Retriable}
}

func (s *Server) writeResponse(resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	_, err = s.out.Write(raw)
	return err
}
