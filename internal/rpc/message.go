// Package rpc implements the ONC-RPC (RFC 1831) message envelope and
// dispatch machinery shared by every program this server speaks: the
// VXI-11 core and async channels, the interrupt back-channel client, and
// the portmapper glue.
package rpc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pigrew/vxi11d/internal/xdr"
)

// Message types (RFC 1831 §8).
const (
	MsgTypeCall  uint32 = 0
	MsgTypeReply uint32 = 1
)

// Reply status (RFC 1831 §8).
const (
	ReplyStatAccepted uint32 = 0
	ReplyStatDenied   uint32 = 1
)

// Accept status (RFC 1831 §8).
const (
	AcceptSuccess      uint32 = 0
	AcceptProgUnavail  uint32 = 1
	AcceptProgMismatch uint32 = 2
	AcceptProcUnavail  uint32 = 3
	AcceptGarbageArgs  uint32 = 4
	AcceptSystemErr    uint32 = 5
)

// AuthFlavorNone is the only authentication flavor this server honors.
// Any other flavor presented by a client is accepted without validation,
// per the Non-goal on RPC authentication.
const AuthFlavorNone uint32 = 0

// maxAuthBody bounds the credential/verifier opaque body per RFC 1831 §7.2.
const maxAuthBody = 400

// ErrGarbageArgs is returned by a handler (or argument decode step) when
// the call body could not be parsed into the expected argument type.
var ErrGarbageArgs = errors.New("rpc: garbage arguments")

// Auth carries an RPC credential or verifier.
type Auth struct {
	Flavor uint32
	Body   []byte
}

// CallHeader is the fixed portion of an RPC call, decoded up to the start
// of the procedure-specific argument block.
type CallHeader struct {
	XID     uint32
	RPCVers uint32
	Prog    uint32
	Vers    uint32
	Proc    uint32
	Cred    Auth
	Verf    Auth
}

// DecodeCallHeader reads an RPC call header from the front of buf and
// returns it along with a Decoder positioned at the first byte of the
// procedure arguments.
func DecodeCallHeader(buf []byte) (CallHeader, *xdr.Decoder, error) {
	d := xdr.NewDecoder(buf)
	var h CallHeader
	var err error

	if h.XID, err = d.Uint32(); err != nil {
		return h, nil, fmt.Errorf("xid: %w", err)
	}
	msgType, err := d.Uint32()
	if err != nil {
		return h, nil, fmt.Errorf("msg_type: %w", err)
	}
	if msgType != MsgTypeCall {
		return h, nil, fmt.Errorf("rpc: expected CALL, got msg_type=%d", msgType)
	}
	if h.RPCVers, err = d.Uint32(); err != nil {
		return h, nil, fmt.Errorf("rpcvers: %w", err)
	}
	if h.Prog, err = d.Uint32(); err != nil {
		return h, nil, fmt.Errorf("prog: %w", err)
	}
	if h.Vers, err = d.Uint32(); err != nil {
		return h, nil, fmt.Errorf("vers: %w", err)
	}
	if h.Proc, err = d.Uint32(); err != nil {
		return h, nil, fmt.Errorf("proc: %w", err)
	}
	if h.Cred, err = decodeAuth(d); err != nil {
		return h, nil, fmt.Errorf("cred: %w", err)
	}
	if h.Verf, err = decodeAuth(d); err != nil {
		return h, nil, fmt.Errorf("verf: %w", err)
	}
	return h, d, nil
}

func decodeAuth(d *xdr.Decoder) (Auth, error) {
	flavor, err := d.Uint32()
	if err != nil {
		return Auth{}, err
	}
	body, err := d.Opaque(maxAuthBody)
	if err != nil {
		return Auth{}, err
	}
	return Auth{Flavor: flavor, Body: body}, nil
}

func encodeAuth(buf *bytes.Buffer, a Auth) error {
	if err := xdr.WriteUint32(buf, a.Flavor); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, a.Body)
}

// authNoneVerf is the verifier every reply carries: AUTH_NONE, empty body.
var authNoneVerf = Auth{Flavor: AuthFlavorNone}

// EncodeSuccessReply builds a complete MSG_ACCEPTED/SUCCESS reply whose
// body is the already-XDR-encoded procedure result.
func EncodeSuccessReply(xid uint32, result []byte) []byte {
	buf := new(bytes.Buffer)
	writeReplyHeader(buf, xid, AcceptSuccess)
	buf.Write(result)
	return buf.Bytes()
}

// EncodeAcceptedErrorReply builds a MSG_ACCEPTED reply whose accept_stat
// is one of ProgUnavail/ProgMismatch/ProcUnavail/GarbageArgs/SystemErr,
// each of which carries no further payload in this server (mismatch low
// and high version fields are omitted; no client here needs them).
func EncodeAcceptedErrorReply(xid uint32, acceptStat uint32) []byte {
	buf := new(bytes.Buffer)
	writeReplyHeader(buf, xid, acceptStat)
	return buf.Bytes()
}

func writeReplyHeader(buf *bytes.Buffer, xid uint32, acceptStat uint32) {
	_ = xdr.WriteUint32(buf, xid)
	_ = xdr.WriteUint32(buf, MsgTypeReply)
	_ = xdr.WriteUint32(buf, ReplyStatAccepted)
	_ = encodeAuth(buf, authNoneVerf)
	_ = xdr.WriteUint32(buf, acceptStat)
}

// EncodeCallMessage builds a complete outbound RPC call message (used by
// the interrupt back-channel client and the portmapper registration
// client), with AUTH_NONE credentials and verifier.
func EncodeCallMessage(xid, prog, vers, proc uint32, args []byte) []byte {
	buf := new(bytes.Buffer)
	_ = xdr.WriteUint32(buf, xid)
	_ = xdr.WriteUint32(buf, MsgTypeCall)
	_ = xdr.WriteUint32(buf, 2) // rpcvers
	_ = xdr.WriteUint32(buf, prog)
	_ = xdr.WriteUint32(buf, vers)
	_ = xdr.WriteUint32(buf, proc)
	_ = encodeAuth(buf, Auth{Flavor: AuthFlavorNone})
	_ = encodeAuth(buf, Auth{Flavor: AuthFlavorNone})
	buf.Write(args)
	return buf.Bytes()
}
