package rpc

import (
	"context"
	"errors"

	"github.com/pigrew/vxi11d/internal/xdr"
)

// Handler processes one RPC call's arguments (already positioned past the
// call header) and returns the XDR-encoded procedure result, ready to be
// wrapped in a success reply. Returning ErrGarbageArgs (or wrapping it)
// causes the dispatcher to reply GARBAGE_ARGS instead of SUCCESS.
type Handler func(ctx context.Context, args *xdr.Decoder) ([]byte, error)

// progVers is the first-level dispatch key.
type progVers struct {
	Prog uint32
	Vers uint32
}

// Table is a two-level (prog,vers) -> proc -> Handler dispatch table. A
// nested table lets PROG_UNAVAIL and PROC_UNAVAIL fall out of two simple
// lookups instead of one combined one.
type Table struct {
	programs map[progVers]map[uint32]Handler
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{programs: make(map[progVers]map[uint32]Handler)}
}

// Register adds a handler for (prog,vers,proc), creating the (prog,vers)
// bucket on first use.
func (t *Table) Register(prog, vers, proc uint32, h Handler) {
	key := progVers{prog, vers}
	procs, ok := t.programs[key]
	if !ok {
		procs = make(map[uint32]Handler)
		t.programs[key] = procs
	}
	procs[proc] = h
}

// Dispatch routes one decoded call to its handler and returns the
// complete reply bytes (header + body) ready to write back on the wire.
// It never returns an error itself: every outcome, including an unknown
// program/version/procedure or a handler failure, is represented as an
// RPC reply per §4.3/§7 of the protocol design.
func (t *Table) Dispatch(ctx context.Context, h CallHeader, args *xdr.Decoder) []byte {
	procs, ok := t.programs[progVers{h.Prog, h.Vers}]
	if !ok {
		return EncodeAcceptedErrorReply(h.XID, AcceptProgUnavail)
	}
	handler, ok := procs[h.Proc]
	if !ok {
		return EncodeAcceptedErrorReply(h.XID, AcceptProcUnavail)
	}

	result, err := handler(ctx, args)
	if err != nil {
		if errors.Is(err, ErrGarbageArgs) {
			return EncodeAcceptedErrorReply(h.XID, AcceptGarbageArgs)
		}
		return EncodeAcceptedErrorReply(h.XID, AcceptSystemErr)
	}
	return EncodeSuccessReply(h.XID, result)
}
