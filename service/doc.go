// Package service owns the broadcast hub: the single write path into the
// queue and the per-consumer feeds read by the gRPC, websocket and
// broadcaster front ends.
//
// It is decoupled from network transports; those live under api/.
package service
