// Package xdr provides generic XDR (External Data Representation) encoding and
// decoding utilities per RFC 4506.
//
// XDR is the standard data serialization format used by Sun RPC protocols,
// including the VXI-11 program built on top of it. This package has no
// dependency on any particular RPC program; it is shared by the RPC
// message and reply builders, the dispatcher, and every VXI-11 wire type.
//
// Key characteristics of XDR:
//   - Big-endian byte order for all multi-byte integers
//   - 4-byte alignment for all data types
//   - Variable-length data is preceded by a 4-byte length
//   - Strings and opaque data are padded to 4-byte boundaries
//
// Decoder is a cursor-style reader that tracks its read offset explicitly
// and can report how much of a buffer was consumed. The Write* functions
// append to a growing *bytes.Buffer and are used both by VXI-11 wire
// types and by the RPC reply builders.
//
// Reference: RFC 4506 - XDR: External Data Representation Standard
// https://tools.ietf.org/html/rfc4506
package xdr
