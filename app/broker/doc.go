// Package broker is the RabbitMQ access layer of the mailer.
//
// It provides:
//   - ConnectionManager: a lazily dialed, shared connection and channel
//   - RPCClient: request/reply over an exclusive reply queue per call
//   - Server: queue listeners that reply to the caller and ack or reject
//   - Publisher: fire-and-forget publishing that never fails its caller
//   - AttachAll: binds a fixed list of queues to handlers at startup
//
// Every message body is JSON. RPC replies use the envelope
// {"code": <int>, "response": <any>}.
package broker
