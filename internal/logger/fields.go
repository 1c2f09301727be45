package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across log statements so records stay queryable
// across the RPC transport, the VXI-11 dispatch layer, and adapters.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // Correlation ID assigned per accepted connection
	KeySpanID  = "span_id"  // Correlation ID assigned per RPC call

	// ========================================================================
	// RPC & VXI-11 Operation
	// ========================================================================
	KeyProgram   = "program"    // ONC-RPC program number
	KeyVersion   = "version"    // ONC-RPC program version
	KeyProcedure = "procedure"  // Procedure name: create_link, device_write, ...
	KeyXID       = "xid"        // RPC transaction identifier
	KeyLinkID    = "link_id"    // VXI-11 device link identifier
	KeyDevice    = "device"     // Requested device string (e.g. inst0)
	KeyAdapter   = "adapter"    // Adapter name backing a link
	KeyErrorCode = "error_code" // VXI-11 error code returned to the client
	KeyStatusMsg = "status_msg" // Human-readable status message

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyClientIP   = "client_ip"   // Client IP address
	KeyClientPort = "client_port" // Client source port
	KeyAuth       = "auth"        // Auth flavor presented by the caller

	// ========================================================================
	// Connection
	// ========================================================================
	KeyConnectionID = "connection_id" // Connection identifier
	KeyChannel      = "channel"       // core, async, intr

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyBytes      = "bytes"       // Byte count read or written
	KeyAttempt    = "attempt"     // Retry attempt number
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for the connection correlation ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for the per-call correlation ID.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Program returns a slog.Attr for the RPC program number.
func Program(prog uint32) slog.Attr {
	return slog.Uint64(KeyProgram, uint64(prog))
}

// Version returns a slog.Attr for the RPC program version.
func Version(vers uint32) slog.Attr {
	return slog.Uint64(KeyVersion, uint64(vers))
}

// Procedure returns a slog.Attr for the VXI-11 procedure name.
func Procedure(name string) slog.Attr {
	return slog.String(KeyProcedure, name)
}

// XID returns a slog.Attr for the RPC transaction ID.
func XID(xid uint32) slog.Attr {
	return slog.Uint64(KeyXID, uint64(xid))
}

// LinkID returns a slog.Attr for a VXI-11 device link identifier.
func LinkID(lid int32) slog.Attr {
	return slog.Int64(KeyLinkID, int64(lid))
}

// Device returns a slog.Attr for the requested device address string.
func Device(name string) slog.Attr {
	return slog.String(KeyDevice, name)
}

// Adapter returns a slog.Attr for the adapter name backing a link.
func Adapter(name string) slog.Attr {
	return slog.String(KeyAdapter, name)
}

// ErrorCode returns a slog.Attr for a VXI-11 error code.
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// StatusMsg returns a slog.Attr for a human-readable status message.
func StatusMsg(msg string) slog.Attr {
	return slog.String(KeyStatusMsg, msg)
}

// ClientIP returns a slog.Attr for the client's IP address.
func ClientIP(ip string) slog.Attr {
	return slog.String(KeyClientIP, ip)
}

// ClientPort returns a slog.Attr for the client's source port.
func ClientPort(port int) slog.Attr {
	return slog.Int(KeyClientPort, port)
}

// Auth returns a slog.Attr for the RPC auth flavor presented by the caller.
func Auth(flavor string) slog.Attr {
	return slog.String(KeyAuth, flavor)
}

// ConnectionID returns a slog.Attr for a connection identifier.
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// Channel returns a slog.Attr identifying which channel server logged the record.
func Channel(name string) slog.Attr {
	return slog.String(KeyChannel, name)
}

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms int64) slog.Attr {
	return slog.Int64(KeyDurationMs, ms)
}

// Err returns a slog.Attr wrapping a Go error as a string field.
// Returns a zero-value Attr if err is nil, so it can be safely omitted.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Bytes returns a slog.Attr for a byte count.
func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// HexBytes formats a byte slice as a hex string attribute under the given key.
func HexBytes(key string, b []byte) slog.Attr {
	return slog.String(key, fmt.Sprintf("%x", b))
}
