// Package socket keeps the directory of live client WebSocket connections
// and pushes asynchronous results to them.
//
// On connect the Server mints a socket id, registers the connection and
// sends "socketId:<id>" as the first text frame. The client echoes that id
// on later REST requests (for example POST /api/v1/control); when the
// matching update envelope is processed, its result is pushed to the socket
// with Registry.Broadcast.
//
// The registry is process-local. Under horizontal scaling a result that
// arrives at one instance cannot reach a socket registered on another, so
// clients and update consumers must be served by the same instance.
package socket
