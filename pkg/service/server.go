// SPDX-License-Identifier: GPL-3.0-or-later

// Package service implements request/response RPC: service servers
// that accept stream connections carrying a "service" header key, and
// clients that look services up via the directory and call them,
// either per-call or over a persistent connection (spec §4.H).
//
// Every request and response is carried as the payload of one
// [wire.EncodeFrame] message, so on the wire a response is
// [4-byte frame length][1-byte ok][payload]: the frame's own length
// prefix already conveys the total size, so the response payload
// itself carries only the leading ok byte, not a second redundant
// length field.
package service

import (
	"fmt"

	"github.com/rosgo/roscore/pkg/callbackqueue"
	"github.com/rosgo/roscore/pkg/wire"
	"github.com/rosgo/roscore/pkg/xconn"
)

// Handler processes one request payload and returns a response
// payload, or an error whose message is sent back to the caller as a
// UTF-8 string (spec §4.H).
type Handler func(request []byte) (response []byte, err error)

// Server advertises one service name and serves every accepted
// connection whose header carries that name.
type Server struct {
	Name    string
	MD5Sum  string
	Handler Handler
	Queue   *callbackqueue.CallbackQueue
	Owner   callbackqueue.OwnerToken
}

// NewServer constructs a server for one service name.
func NewServer(name, md5sum string, handler Handler, queue *callbackqueue.CallbackQueue) *Server {
	return &Server{
		Name:    name,
		MD5Sum:  md5sum,
		Handler: handler,
		Queue:   queue,
		Owner:   callbackqueue.NewOwnerToken(),
	}
}

// Validate checks an inbound connection's header against this
// service's name and md5sum (spec §4.D).
func (s *Server) Validate(h wire.Header) error {
	return xconn.ValidateServiceHeader(s.Name, s.MD5Sum, h)
}

// Serve drives conn's request/response loop until it drops. Each
// request is posted to the server's callback queue so the handler runs
// on a spinner goroutine rather than the connection's own read
// goroutine, matching every other callback path in the system.
func (s *Server) Serve(conn *xconn.Connection) {
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		done := make(chan struct{})
		s.Queue.AddCallback(func() {
			defer close(done)
			response, herr := s.Handler(payload)
			if herr != nil {
				_ = writeErrorResponse(conn, herr)
				return
			}
			_ = writeOKResponse(conn, response)
		}, s.Owner, s.Name)
		<-done
	}
}

func writeOKResponse(conn *xconn.Connection, payload []byte) error {
	return conn.WriteMessage(append([]byte{1}, payload...))
}

func writeErrorResponse(conn *xconn.Connection, err error) error {
	return conn.WriteMessage(append([]byte{0}, []byte(err.Error())...))
}

// DecodeResponse splits a response message's payload into its ok flag
// and remaining bytes (the response payload, or the UTF-8 error string).
func DecodeResponse(payload []byte) (ok bool, rest []byte, err error) {
	if len(payload) < 1 {
		return false, nil, fmt.Errorf("service: empty response")
	}
	return payload[0] == 1, payload[1:], nil
}
