package vxi11

import (
	"bytes"
	"fmt"

	"github.com/pigrew/vxi11d/internal/xdr"
)

// Link is the VXI-11 Device_Link wire type: an opaque 32-bit identifier
// handed back by create_link and echoed by every subsequent procedure.
type Link int32

// CreateLinkParms is the argument block of procedure 10, create_link.
type CreateLinkParms struct {
	ClientID    int32
	LockDevice  bool
	LockTimeout uint32 // milliseconds
	Device      string
}

func (p *CreateLinkParms) Decode(d *xdr.Decoder) error {
	var err error
	if p.ClientID, err = d.Int32(); err != nil {
		return err
	}
	if p.LockDevice, err = d.Bool(); err != nil {
		return err
	}
	if p.LockTimeout, err = d.Uint32(); err != nil {
		return err
	}
	if p.Device, err = d.String(MaxOpaqueLen); err != nil {
		return err
	}
	return nil
}

// CreateLinkResp is the result of procedure 10.
type CreateLinkResp struct {
	Error       ErrorCode
	Lid         Link
	AbortPort   uint32
	MaxRecvSize uint32
}

func (r *CreateLinkResp) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteInt32(buf, int32(r.Error)); err != nil {
		return err
	}
	if err := xdr.WriteInt32(buf, int32(r.Lid)); err != nil {
		return err
	}
	if err := xdr.WriteUint32(buf, r.AbortPort); err != nil {
		return err
	}
	return xdr.WriteUint32(buf, r.MaxRecvSize)
}

// DeviceWriteParms is the argument block of procedure 11, device_write.
type DeviceWriteParms struct {
	Lid         Link
	IOTimeout   uint32
	LockTimeout uint32
	Flags       DeviceFlags
	Data        []byte
}

func (p *DeviceWriteParms) Decode(d *xdr.Decoder) error {
	lid, err := d.Int32()
	if err != nil {
		return err
	}
	p.Lid = Link(lid)
	if p.IOTimeout, err = d.Uint32(); err != nil {
		return err
	}
	if p.LockTimeout, err = d.Uint32(); err != nil {
		return err
	}
	flags, err := d.Uint32()
	if err != nil {
		return err
	}
	p.Flags = DeviceFlags(flags)
	if p.Data, err = d.Opaque(MaxOpaqueLen); err != nil {
		return err
	}
	return nil
}

// DeviceWriteResp is the result of procedure 11.
type DeviceWriteResp struct {
	Error ErrorCode
	Size  uint32
}

func (r *DeviceWriteResp) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteInt32(buf, int32(r.Error)); err != nil {
		return err
	}
	return xdr.WriteUint32(buf, r.Size)
}

// DeviceReadParms is the argument block of procedure 12, device_read.
type DeviceReadParms struct {
	Lid         Link
	RequestSize uint32
	IOTimeout   uint32
	LockTimeout uint32
	Flags       DeviceFlags
	TermChar    byte
}

func (p *DeviceReadParms) Decode(d *xdr.Decoder) error {
	lid, err := d.Int32()
	if err != nil {
		return err
	}
	p.Lid = Link(lid)
	if p.RequestSize, err = d.Uint32(); err != nil {
		return err
	}
	if p.IOTimeout, err = d.Uint32(); err != nil {
		return err
	}
	if p.LockTimeout, err = d.Uint32(); err != nil {
		return err
	}
	flags, err := d.Uint32()
	if err != nil {
		return err
	}
	p.Flags = DeviceFlags(flags)
	termChar, err := d.Uint32()
	if err != nil {
		return err
	}
	p.TermChar = byte(termChar)
	return nil
}

// DeviceReadResp is the result of procedure 12.
type DeviceReadResp struct {
	Error  ErrorCode
	Reason ReadReason
	Data   []byte
}

func (r *DeviceReadResp) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteInt32(buf, int32(r.Error)); err != nil {
		return err
	}
	if err := xdr.WriteUint32(buf, uint32(r.Reason)); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, r.Data)
}

// DeviceReadStbResp is the result of procedure 13, device_readstb.
type DeviceReadStbResp struct {
	Error ErrorCode
	Stb   byte
}

func (r *DeviceReadStbResp) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteInt32(buf, int32(r.Error)); err != nil {
		return err
	}
	return xdr.WriteUint32(buf, uint32(r.Stb))
}

// DeviceGenericParms is the shared argument block of device_readstb,
// device_trigger, device_clear, device_remote, and device_local.
type DeviceGenericParms struct {
	Lid         Link
	Flags       DeviceFlags
	LockTimeout uint32
	IOTimeout   uint32
}

func (p *DeviceGenericParms) Decode(d *xdr.Decoder) error {
	lid, err := d.Int32()
	if err != nil {
		return err
	}
	p.Lid = Link(lid)
	flags, err := d.Uint32()
	if err != nil {
		return err
	}
	p.Flags = DeviceFlags(flags)
	if p.LockTimeout, err = d.Uint32(); err != nil {
		return err
	}
	if p.IOTimeout, err = d.Uint32(); err != nil {
		return err
	}
	return nil
}

// DeviceError wraps a bare ErrorCode result, the shape returned by
// device_trigger, device_clear, device_remote, device_local, and
// destroy_link.
type DeviceError struct {
	Error ErrorCode
}

func (r *DeviceError) Encode(buf *bytes.Buffer) error {
	return xdr.WriteInt32(buf, int32(r.Error))
}

// DeviceLockParms is the argument block of procedure 18, device_lock.
type DeviceLockParms struct {
	Lid         Link
	Flags       DeviceFlags
	LockTimeout uint32
}

func (p *DeviceLockParms) Decode(d *xdr.Decoder) error {
	lid, err := d.Int32()
	if err != nil {
		return err
	}
	p.Lid = Link(lid)
	flags, err := d.Uint32()
	if err != nil {
		return err
	}
	p.Flags = DeviceFlags(flags)
	if p.LockTimeout, err = d.Uint32(); err != nil {
		return err
	}
	return nil
}

// DeviceLinkParms is the bare-Lid argument block of device_unlock and
// destroy_link.
type DeviceLinkParms struct {
	Lid Link
}

func (p *DeviceLinkParms) Decode(d *xdr.Decoder) error {
	lid, err := d.Int32()
	if err != nil {
		return err
	}
	p.Lid = Link(lid)
	return nil
}

// DeviceEnableSrqParms is the argument block of procedure 20,
// device_enable_srq.
type DeviceEnableSrqParms struct {
	Lid    Link
	Enable bool
	Handle []byte
}

func (p *DeviceEnableSrqParms) Decode(d *xdr.Decoder) error {
	lid, err := d.Int32()
	if err != nil {
		return err
	}
	p.Lid = Link(lid)
	if p.Enable, err = d.Bool(); err != nil {
		return err
	}
	if p.Handle, err = d.Opaque(MaxSrqHandleLen); err != nil {
		return err
	}
	return nil
}

// DeviceDocmdParms is the argument block of procedure 22, device_docmd.
type DeviceDocmdParms struct {
	Lid          Link
	Flags        DeviceFlags
	IOTimeout    uint32
	LockTimeout  uint32
	Cmd          int32
	NetworkOrder bool
	DataSize     int32
	DataIn       []byte
}

func (p *DeviceDocmdParms) Decode(d *xdr.Decoder) error {
	lid, err := d.Int32()
	if err != nil {
		return err
	}
	p.Lid = Link(lid)
	flags, err := d.Uint32()
	if err != nil {
		return err
	}
	p.Flags = DeviceFlags(flags)
	if p.IOTimeout, err = d.Uint32(); err != nil {
		return err
	}
	if p.LockTimeout, err = d.Uint32(); err != nil {
		return err
	}
	if p.Cmd, err = d.Int32(); err != nil {
		return err
	}
	if p.NetworkOrder, err = d.Bool(); err != nil {
		return err
	}
	if p.DataSize, err = d.Int32(); err != nil {
		return err
	}
	if p.DataIn, err = d.Opaque(MaxOpaqueLen); err != nil {
		return err
	}
	return nil
}

// DeviceDocmdResp is the result of procedure 22.
type DeviceDocmdResp struct {
	Error   ErrorCode
	DataOut []byte
}

func (r *DeviceDocmdResp) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteInt32(buf, int32(r.Error)); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, r.DataOut)
}

// DeviceRemoteFunc is the argument block of procedure 25,
// create_intr_chan.
type DeviceRemoteFunc struct {
	HostAddr uint32
	HostPort uint32
	ProgNum  uint32
	ProgVers uint32
	ProgFam  DeviceAddrFamily
}

func (p *DeviceRemoteFunc) Decode(d *xdr.Decoder) error {
	var err error
	if p.HostAddr, err = d.Uint32(); err != nil {
		return err
	}
	if p.HostPort, err = d.Uint32(); err != nil {
		return err
	}
	if p.ProgNum, err = d.Uint32(); err != nil {
		return err
	}
	if p.ProgVers, err = d.Uint32(); err != nil {
		return err
	}
	fam, err := d.Uint32()
	if err != nil {
		return err
	}
	p.ProgFam = DeviceAddrFamily(fam)
	return nil
}

// DeviceSrqParms is the argument block of the interrupt program's single
// procedure, device_intr_srq.
type DeviceSrqParms struct {
	Handle []byte
}

func (p *DeviceSrqParms) Decode(d *xdr.Decoder) error {
	handle, err := d.Opaque(MaxSrqHandleLen)
	if err != nil {
		return err
	}
	p.Handle = handle
	return nil
}

func (p *DeviceSrqParms) Encode(buf *bytes.Buffer) error {
	return xdr.WriteXDROpaque(buf, p.Handle)
}

// HostAddrToDottedQuad renders a create_intr_chan hostAddr (a 32-bit
// integer in network byte order) as a dotted-quad string.
func HostAddrToDottedQuad(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}
