// Package rpc exposes a node over gRPC and pushes gossip to peers over the
// same service.
//
// The KV service is described by a hand-written grpc.ServiceDesc. Messages
// are the plain structs from package api, carried by a JSON codec registered
// under the "json" content-subtype; protobuf messages that share the
// connection, such as the health service and the empty gossip ack, are
// encoded with protojson by the same codec.
package rpc
