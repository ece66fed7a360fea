// SPDX-License-Identifier: GPL-3.0-or-later

package directory

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Callbacks is implemented by whatever owns the node's topic, service,
// and parameter state; [Server] dispatches the master's four RPC
// callbacks to it (spec §4.F).
type Callbacks interface {
	PublisherUpdate(callerID, topic string, publishers []string) (code int, message string)
	RequestTopic(callerID, topic string, protocols []any) (value any, code int, message string)
	ParamUpdate(callerID, key string, value any) (code int, message string)
	Shutdown(callerID, reason string) (code int, message string)
}

// Server hosts the four master-initiated callbacks over XML-RPC. There
// is no XML-RPC server library anywhere in the retrieval pack (every
// pack hit under that name is a client), so the wire format is decoded
// and encoded directly on top of net/http and encoding/xml.
type Server struct {
	callbacks Callbacks
	logger    SLogger
	http      *http.Server
	listener  net.Listener
}

// NewServer constructs a server that will dispatch to callbacks once
// started.
func NewServer(callbacks Callbacks, logger SLogger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Server{callbacks: callbacks, logger: logger}
	s.http = &http.Server{Handler: http.HandlerFunc(s.handle)}
	return s
}

// Start binds host:0 and begins serving in a goroutine supervised by
// spawn. It returns once the listener is bound so [Server.URI] is valid.
func (s *Server) Start(host string, spawn func(fn func(ctx context.Context) error)) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return fmt.Errorf("directory: binding callback server: %w", err)
	}
	s.listener = ln
	spawn(func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- s.http.Serve(ln) }()
		select {
		case <-ctx.Done():
			return s.http.Close()
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})
	return nil
}

// URI returns this server's "http://host:port/" address, suitable for
// registration with the master as the node's callback API URI.
func (s *Server) URI() string {
	return fmt.Sprintf("http://%s/", s.listener.Addr().String())
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "directory: reading body", http.StatusBadRequest)
		return
	}
	method, args, err := decodeMethodCall(body)
	if err != nil {
		http.Error(w, "directory: "+err.Error(), http.StatusBadRequest)
		return
	}

	value, code, message := s.dispatch(method, args)

	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, encodeMethodResponse(code, message, value))
}

func (s *Server) dispatch(method string, args []any) (value any, code int, message string) {
	callerID, _ := stringArg(args, 0)
	switch method {
	case "publisherUpdate":
		topic, _ := stringArg(args, 1)
		publishers := stringSliceArg(args, 2)
		code, message = s.callbacks.PublisherUpdate(callerID, topic, publishers)
		return nil, code, message
	case "requestTopic":
		topic, _ := stringArg(args, 1)
		var protocols []any
		if len(args) > 2 {
			protocols, _ = args[2].([]any)
		}
		value, code, message = s.callbacks.RequestTopic(callerID, topic, protocols)
		return value, code, message
	case "paramUpdate":
		key, _ := stringArg(args, 1)
		var paramValue any
		if len(args) > 2 {
			paramValue = args[2]
		}
		code, message = s.callbacks.ParamUpdate(callerID, key, paramValue)
		return nil, code, message
	case "shutdown":
		reason, _ := stringArg(args, 1)
		code, message = s.callbacks.Shutdown(callerID, reason)
		return nil, code, message
	default:
		return nil, 0, fmt.Sprintf("directory: unknown method %q", method)
	}
}

func stringArg(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func stringSliceArg(args []any, i int) []string {
	if i >= len(args) {
		return nil
	}
	raw, ok := args[i].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

type methodCallXML struct {
	XMLName    xml.Name `xml:"methodCall"`
	MethodName string   `xml:"methodName"`
	Params     struct {
		Param []struct {
			Value xmlValue `xml:"value"`
		} `xml:"param"`
	} `xml:"params"`
}

func decodeMethodCall(body []byte) (method string, args []any, err error) {
	var call methodCallXML
	if err := xml.Unmarshal(body, &call); err != nil {
		return "", nil, fmt.Errorf("decoding methodCall: %w", err)
	}
	args = make([]any, 0, len(call.Params.Param))
	for _, p := range call.Params.Param {
		v, err := decodeValue(p.Value)
		if err != nil {
			return "", nil, fmt.Errorf("decoding param: %w", err)
		}
		args = append(args, v)
	}
	return call.MethodName, args, nil
}

func encodeMethodResponse(code int, message string, value any) string {
	return `<?xml version="1.0"?><methodResponse><params><param>` +
		encodeValue([]any{code, message, value}) +
		`</param></params></methodResponse>`
}
