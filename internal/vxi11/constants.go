// Package vxi11 implements the wire types, error taxonomy, and control
// bitmasks of the VXI-11 device core, async, and interrupt programs.
package vxi11

// Program numbers and the one version each exposes.
const (
	ProgCore  uint32 = 395183 // 0x0607AF
	VersCore  uint32 = 1
	ProgAsync uint32 = 395184 // 0x0607AF + 1
	VersAsync uint32 = 1
	ProgIntr  uint32 = 395185 // 0x0607B1
	VersIntr  uint32 = 1
)

// Core program procedure numbers.
const (
	ProcCreateLink      uint32 = 10
	ProcDeviceWrite     uint32 = 11
	ProcDeviceRead      uint32 = 12
	ProcDeviceReadStb   uint32 = 13
	ProcDeviceTrigger   uint32 = 14
	ProcDeviceClear     uint32 = 15
	ProcDeviceRemote    uint32 = 16
	ProcDeviceLocal     uint32 = 17
	ProcDeviceLock      uint32 = 18
	ProcDeviceUnlock    uint32 = 19
	ProcDeviceEnableSrq uint32 = 20
	ProcDeviceDocmd     uint32 = 22
	ProcDestroyLink     uint32 = 23
	ProcCreateIntrChan  uint32 = 25
	ProcDestroyIntrChan uint32 = 26
)

// Async program procedure numbers.
const (
	ProcDeviceAbort uint32 = 1
)

// Interrupt program procedure numbers.
const (
	ProcDeviceIntrSrq uint32 = 30
)

// DeviceAddrFamily identifies the transport family requested for an
// interrupt back-channel in create_intr_chan. Only DeviceTCP is
// supported; UDP is a Non-goal.
type DeviceAddrFamily uint32

const (
	DeviceTCP DeviceAddrFamily = 0
	DeviceUDP DeviceAddrFamily = 1
)

// DeviceFlags is the bitmask carried by device_write, device_read,
// device_lock, device_docmd, and the generic-parms procedures
// (device_readstb, device_trigger, device_clear, device_remote,
// device_local).
type DeviceFlags uint32

const (
	FlagWaitLock    DeviceFlags = 0x01
	FlagEnd         DeviceFlags = 0x08
	FlagTermCharSet DeviceFlags = 0x80
)

func (f DeviceFlags) Has(bit DeviceFlags) bool {
	return f&bit != 0
}

// ReadReason is the bitmask device_read sets to tell the caller why the
// read stopped.
//
// One existing VXI-11 server implementation emits 0x84 for END
// (bit 7, 0x80, OR'd with END's own 0x04 — almost
// certainly a copy-paste artifact from DeviceFlags.TERMCHRSET=0x80)
// while the VXI-11 wire format defines END as bit 2, 0x04. This
// implementation emits 0x04 and treats 0x84 as a bug in that server,
// not a convention to match.
type ReadReason uint32

const (
	ReasonReqCnt ReadReason = 0x01
	ReasonChr    ReadReason = 0x02
	ReasonEnd    ReadReason = 0x04
)

// ErrorCode is the exhaustive VXI-11 error enumeration carried in the
// error field of every reply. It is always a successful RPC reply; only
// the VXI-11 layer considers a nonzero ErrorCode a failure.
type ErrorCode int32

const (
	ErrNoError                   ErrorCode = 0
	ErrSyntaxError               ErrorCode = 1
	ErrDeviceNotAccessible       ErrorCode = 3
	ErrInvalidLinkIdentifier     ErrorCode = 4
	ErrParameterError            ErrorCode = 5
	ErrChannelNotEstablished     ErrorCode = 6
	ErrOperationNotSupported     ErrorCode = 8
	ErrOutOfResources            ErrorCode = 9
	ErrDeviceLockedByAnotherLink ErrorCode = 11
	ErrNoLockHeldByThisLink      ErrorCode = 12
	ErrIOTimeout                 ErrorCode = 15
	ErrIOError                   ErrorCode = 17
	ErrInvalidAddress            ErrorCode = 21
	ErrAbort                     ErrorCode = 23
	ErrChannelAlreadyEstablished ErrorCode = 29
)

func (e ErrorCode) String() string {
	switch e {
	case ErrNoError:
		return "NO_ERROR"
	case ErrSyntaxError:
		return "SYNTAX_ERROR"
	case ErrDeviceNotAccessible:
		return "DEVICE_NOT_ACCESSIBLE"
	case ErrInvalidLinkIdentifier:
		return "INVALID_LINK_IDENTIFIER"
	case ErrParameterError:
		return "PARAMETER_ERROR"
	case ErrChannelNotEstablished:
		return "CHANNEL_NOT_ESTABLISHED"
	case ErrOperationNotSupported:
		return "OPERATION_NOT_SUPPORTED"
	case ErrOutOfResources:
		return "OUT_OF_RESOURCES"
	case ErrDeviceLockedByAnotherLink:
		return "DEVICE_LOCKED_BY_ANOTHER_LINK"
	case ErrNoLockHeldByThisLink:
		return "NO_LOCK_HELD_BY_THIS_LINK"
	case ErrIOTimeout:
		return "IO_TIMEOUT"
	case ErrIOError:
		return "IO_ERROR"
	case ErrInvalidAddress:
		return "INVALID_ADDRESS"
	case ErrAbort:
		return "ABORT"
	case ErrChannelAlreadyEstablished:
		return "CHANNEL_ALREADY_ESTABLISHED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// MinMaxRecvSize is the minimum maxRecvSize a create_link reply may
// advertise, per the VXI-11 spec minimum.
const MinMaxRecvSize = 1024

// MaxOpaqueLen bounds variable-length opaque fields (device strings,
// write/read payloads) decoded off the wire.
const MaxOpaqueLen = MaxRecordPayload

// MaxRecordPayload mirrors the RPC framer's record cap; a single VXI-11
// field can never legitimately approach the wire's own per-record limit.
const MaxRecordPayload = 4 * 1024 * 1024

// MaxSrqHandleLen bounds the Device_SrqParms.handle blob.
const MaxSrqHandleLen = 40
