// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package nexusrpc implements the plugin and host sides of the Nexus data
// source protocol. A plugin process exposes a [DataSource] (catalogs of
// measurement resources plus their samples) to a host over a narrow,
// versioned wire protocol.
//
// # Transports
//
// Two framing variants are supported. Both carry JSON control messages
// behind a 4-byte unsigned length prefix.
//
//   - Pipe: one stream in each direction (usually the plugin's stdin and
//     stdout), little-endian lengths. The host opens with a handshake
//     {"protocol":"json","version":1}, then sends invocations
//     {"type":1,"target":..,"arguments":[..],"invocationId":..} and finally
//     {"type":7}. Sample and status bytes of a ReadSingle call follow the
//     response frame on the same stream. Log records go to stderr as JSON
//     lines. See [Server] and [PipeHost].
//   - Socket: two TCP connections to a host-owned listener, identified by the
//     role tokens "comm" and "data". The comm connection carries big-endian
//     length-prefixed JSON-RPC 2.0; raw sample bytes go unframed on the data
//     connection. Log records are pushed as "log" notifications. See
//     [SocketServer] and [SocketHost].
//
// # Marshalling
//
// Values cross the wire through an explicit schema: every record type
// declares its fields and their [Shape]s, and [Encode] and [Decode] walk a
// value and its shape together. Field names are snake_case in memory and
// camelCase on the wire. Timestamps are ISO 8601 with seven fraction digits
// and a Z suffix; durations use the [d.]hh:mm:ss[.fffffff] literal.
//
// # Errors
//
// Every protocol-level failure is an [*RpcError] whose Type is one of
// ConnectionAborted, ProtocolViolation, MarshalError or DomainError. Domain
// and marshal errors are reported per invocation; aborted connections and
// protocol violations outside an invocation end the connection.
package nexusrpc
