package rpc

import (
	"context"
	"fmt"
	"net"
	"time"
)

// CallFireAndForget opens a fresh TCP connection to addr, sends one RPC
// call, and returns without reading a reply. Used by the interrupt
// back-channel (device_intr_srq, which has no reply per the VXI-11
// program definition) where waiting for a response would serialize SRQ
// delivery against a potentially unresponsive client.
func CallFireAndForget(ctx context.Context, addr string, xid, prog, vers, proc uint32, args []byte, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	msg := EncodeCallMessage(xid, prog, vers, proc, args)
	return WriteRecord(conn, msg)
}

// Call opens a fresh TCP connection to addr, sends one RPC call, reads
// back the reply record, and returns its raw bytes (header included).
func Call(ctx context.Context, addr string, xid, prog, vers, proc uint32, args []byte, timeout time.Duration) ([]byte, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	_ = conn.SetDeadline(deadline)

	msg := EncodeCallMessage(xid, prog, vers, proc, args)
	if err := WriteRecord(conn, msg); err != nil {
		return nil, err
	}
	reply, err := ReadRecord(conn)
	if err != nil {
		return nil, fmt.Errorf("rpc: read reply: %w", err)
	}
	return reply, nil
}
