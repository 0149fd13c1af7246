package bigpayload

// PayloadType is TakionMessage's type discriminator, per
// stream_packets.py:get_payload_type / msg.PayloadType.*. Field numbering
// here is a plausible reconstruction from the attribute-access patterns in
// stream_packets.py (no takion.proto source file was included in the
// filtered original_source drop) rather than a byte-for-byte reproduction
// of Sony's wire numbering — flagged the same way as the register key
// tables in internal/register.
type PayloadType uint64

const (
	PayloadBig           PayloadType = 1
	PayloadBang          PayloadType = 2
	PayloadStreamInfo    PayloadType = 3
	PayloadStreamInfoAck PayloadType = 4
	PayloadSenkusha      PayloadType = 5
	PayloadCorruptFrame  PayloadType = 6
	PayloadDisconnect    PayloadType = 7
	PayloadHeartbeat     PayloadType = 8
)

const (
	fieldMsgType         = 1
	fieldMsgBigPayload   = 2
	fieldMsgBang         = 3
	fieldMsgSenkusha     = 4
	fieldMsgStreamInfo   = 5
	fieldMsgCorrupt      = 6
	fieldMsgDisconnect   = 7
)

// TakionMessage is the outer envelope every C7 message is wrapped in, per
// stream_packets.py:message()/ProtoHandler.handle.
type TakionMessage struct {
	Type             PayloadType
	BigPayload       *BigPayload
	BangPayload      *BangPayload
	SenkushaPayload  *SenkushaPayload
	StreamInfo       *StreamInfoPayload
	CorruptPayload   *CorruptPayload
	DisconnectPayload *DisconnectPayload
}

// Encode serializes the message, emitting only the submessage matching Type.
func (m TakionMessage) Encode() []byte {
	var buf []byte
	buf = appendVarintField(buf, fieldMsgType, uint64(m.Type))
	switch m.Type {
	case PayloadBig:
		if m.BigPayload != nil {
			buf = appendMessageField(buf, fieldMsgBigPayload, m.BigPayload.Encode())
		}
	case PayloadBang:
		if m.BangPayload != nil {
			buf = appendMessageField(buf, fieldMsgBang, m.BangPayload.Encode())
		}
	case PayloadSenkusha:
		if m.SenkushaPayload != nil {
			buf = appendMessageField(buf, fieldMsgSenkusha, m.SenkushaPayload.Encode())
		}
	case PayloadStreamInfo, PayloadStreamInfoAck:
		if m.StreamInfo != nil {
			buf = appendMessageField(buf, fieldMsgStreamInfo, m.StreamInfo.Encode())
		}
	case PayloadCorruptFrame:
		if m.CorruptPayload != nil {
			buf = appendMessageField(buf, fieldMsgCorrupt, m.CorruptPayload.Encode())
		}
	case PayloadDisconnect:
		if m.DisconnectPayload != nil {
			buf = appendMessageField(buf, fieldMsgDisconnect, m.DisconnectPayload.Encode())
		}
	}
	return buf
}

// DecodeTakionMessage parses the outer envelope and, based on Type, the one
// submessage present.
func DecodeTakionMessage(data []byte) (TakionMessage, error) {
	fields, err := decodeWireFields(data)
	if err != nil {
		return TakionMessage{}, err
	}
	msg := TakionMessage{Type: PayloadType(firstVarint(fields, fieldMsgType))}

	switch msg.Type {
	case PayloadBig:
		if raw := firstBytes(fields, fieldMsgBigPayload); raw != nil {
			bp, err := DecodeBigPayload(raw)
			if err != nil {
				return TakionMessage{}, err
			}
			msg.BigPayload = &bp
		}
	case PayloadBang:
		if raw := firstBytes(fields, fieldMsgBang); raw != nil {
			bp, err := DecodeBangPayload(raw)
			if err != nil {
				return TakionMessage{}, err
			}
			msg.BangPayload = &bp
		}
	case PayloadSenkusha:
		if raw := firstBytes(fields, fieldMsgSenkusha); raw != nil {
			sp, err := DecodeSenkushaPayload(raw)
			if err != nil {
				return TakionMessage{}, err
			}
			msg.SenkushaPayload = &sp
		}
	case PayloadStreamInfo, PayloadStreamInfoAck:
		if raw := firstBytes(fields, fieldMsgStreamInfo); raw != nil {
			sip, err := DecodeStreamInfoPayload(raw)
			if err != nil {
				return TakionMessage{}, err
			}
			msg.StreamInfo = &sip
		}
	case PayloadCorruptFrame:
		if raw := firstBytes(fields, fieldMsgCorrupt); raw != nil {
			cp, err := DecodeCorruptPayload(raw)
			if err != nil {
				return TakionMessage{}, err
			}
			msg.CorruptPayload = &cp
		}
	case PayloadDisconnect:
		if raw := firstBytes(fields, fieldMsgDisconnect); raw != nil {
			dp, err := DecodeDisconnectPayload(raw)
			if err != nil {
				return TakionMessage{}, err
			}
			msg.DisconnectPayload = &dp
		}
	}
	return msg, nil
}

const (
	fieldBigClientVersion = 1
	fieldBigSessionKey    = 2
	fieldBigLaunchSpec    = 3
	fieldBigEncryptedKey  = 4
	fieldBigECDHPubKey    = 5
	fieldBigECDHSig       = 6
)

// BigPayload is the client's initial launch request, per
// stream_packets.py:ProtoHandler.big_payload.
type BigPayload struct {
	ClientVersion uint32
	SessionKey    []byte
	LaunchSpec    []byte
	EncryptedKey  []byte
	ECDHPubKey    []byte
	ECDHSig       []byte
}

func (b BigPayload) Encode() []byte {
	var buf []byte
	buf = appendVarintField(buf, fieldBigClientVersion, uint64(b.ClientVersion))
	buf = appendBytesField(buf, fieldBigSessionKey, b.SessionKey)
	buf = appendBytesField(buf, fieldBigLaunchSpec, b.LaunchSpec)
	buf = appendBytesField(buf, fieldBigEncryptedKey, b.EncryptedKey)
	if b.ECDHPubKey != nil {
		buf = appendBytesField(buf, fieldBigECDHPubKey, b.ECDHPubKey)
	}
	if b.ECDHSig != nil {
		buf = appendBytesField(buf, fieldBigECDHSig, b.ECDHSig)
	}
	return buf
}

func DecodeBigPayload(data []byte) (BigPayload, error) {
	fields, err := decodeWireFields(data)
	if err != nil {
		return BigPayload{}, err
	}
	return BigPayload{
		ClientVersion: uint32(firstVarint(fields, fieldBigClientVersion)),
		SessionKey:    firstBytes(fields, fieldBigSessionKey),
		LaunchSpec:    firstBytes(fields, fieldBigLaunchSpec),
		EncryptedKey:  firstBytes(fields, fieldBigEncryptedKey),
		ECDHPubKey:    firstBytes(fields, fieldBigECDHPubKey),
		ECDHSig:       firstBytes(fields, fieldBigECDHSig),
	}, nil
}

const (
	fieldBangVersionAccepted = 1
	fieldBangKeyAccepted     = 2
	fieldBangECDHPubKey      = 3
	fieldBangECDHSig         = 4
)

// BangPayload is the server's reply to BigPayload, per
// stream_packets.py:ProtoHandler.handle's 'BANG' branch.
type BangPayload struct {
	VersionAccepted      bool
	EncryptedKeyAccepted bool
	ECDHPubKey           []byte
	ECDHSig              []byte
}

func (b BangPayload) Encode() []byte {
	var buf []byte
	buf = appendBoolField(buf, fieldBangVersionAccepted, b.VersionAccepted)
	buf = appendBoolField(buf, fieldBangKeyAccepted, b.EncryptedKeyAccepted)
	buf = appendBytesField(buf, fieldBangECDHPubKey, b.ECDHPubKey)
	buf = appendBytesField(buf, fieldBangECDHSig, b.ECDHSig)
	return buf
}

func DecodeBangPayload(data []byte) (BangPayload, error) {
	fields, err := decodeWireFields(data)
	if err != nil {
		return BangPayload{}, err
	}
	return BangPayload{
		VersionAccepted:      firstVarint(fields, fieldBangVersionAccepted) != 0,
		EncryptedKeyAccepted: firstVarint(fields, fieldBangKeyAccepted) != 0,
		ECDHPubKey:           firstBytes(fields, fieldBangECDHPubKey),
		ECDHSig:              firstBytes(fields, fieldBangECDHSig),
	}, nil
}

// SenkushaCommand selects which MTU/echo probe a SenkushaPayload carries,
// per stream_packets.py:senkusha_echo/senkusha_mtu/senkusha_mtu_client.
type SenkushaCommand uint64

const (
	SenkushaEcho      SenkushaCommand = 1
	SenkushaMTU       SenkushaCommand = 2
	SenkushaClientMTU SenkushaCommand = 3
)

const (
	fieldSenkCommand    = 1
	fieldSenkEcho       = 2
	fieldSenkMTU        = 3
	fieldSenkClientMTU  = 4

	fieldEchoState = 1

	fieldMTUID  = 1
	fieldMTUReq = 2

	fieldClientMTUState = 1
	fieldClientMTUID    = 2
	fieldClientMTUReq   = 3
	fieldClientMTUDown  = 4
)

// SenkushaPayload probes MTU and round-trip time before streaming starts.
type SenkushaPayload struct {
	Command        SenkushaCommand
	EchoState      bool
	MTUReqID       uint32
	MTURequested   uint32
	ClientMTUState bool
	ClientMTUID    uint32
	ClientMTUReq   uint32
	ClientMTUDown  uint32
}

func (s SenkushaPayload) Encode() []byte {
	var buf []byte
	buf = appendVarintField(buf, fieldSenkCommand, uint64(s.Command))
	switch s.Command {
	case SenkushaEcho:
		var sub []byte
		sub = appendBoolField(sub, fieldEchoState, s.EchoState)
		buf = appendMessageField(buf, fieldSenkEcho, sub)
	case SenkushaMTU:
		var sub []byte
		sub = appendVarintField(sub, fieldMTUID, uint64(s.MTUReqID))
		sub = appendVarintField(sub, fieldMTUReq, uint64(s.MTURequested))
		buf = appendMessageField(buf, fieldSenkMTU, sub)
	case SenkushaClientMTU:
		var sub []byte
		sub = appendBoolField(sub, fieldClientMTUState, s.ClientMTUState)
		sub = appendVarintField(sub, fieldClientMTUID, uint64(s.ClientMTUID))
		sub = appendVarintField(sub, fieldClientMTUReq, uint64(s.ClientMTUReq))
		sub = appendVarintField(sub, fieldClientMTUDown, uint64(s.ClientMTUDown))
		buf = appendMessageField(buf, fieldSenkClientMTU, sub)
	}
	return buf
}

func DecodeSenkushaPayload(data []byte) (SenkushaPayload, error) {
	fields, err := decodeWireFields(data)
	if err != nil {
		return SenkushaPayload{}, err
	}
	s := SenkushaPayload{Command: SenkushaCommand(firstVarint(fields, fieldSenkCommand))}
	switch s.Command {
	case SenkushaEcho:
		sub, err := decodeWireFields(firstBytes(fields, fieldSenkEcho))
		if err != nil {
			return SenkushaPayload{}, err
		}
		s.EchoState = firstVarint(sub, fieldEchoState) != 0
	case SenkushaMTU:
		sub, err := decodeWireFields(firstBytes(fields, fieldSenkMTU))
		if err != nil {
			return SenkushaPayload{}, err
		}
		s.MTUReqID = uint32(firstVarint(sub, fieldMTUID))
		s.MTURequested = uint32(firstVarint(sub, fieldMTUReq))
	case SenkushaClientMTU:
		sub, err := decodeWireFields(firstBytes(fields, fieldSenkClientMTU))
		if err != nil {
			return SenkushaPayload{}, err
		}
		s.ClientMTUState = firstVarint(sub, fieldClientMTUState) != 0
		s.ClientMTUID = uint32(firstVarint(sub, fieldClientMTUID))
		s.ClientMTUReq = uint32(firstVarint(sub, fieldClientMTUReq))
		s.ClientMTUDown = uint32(firstVarint(sub, fieldClientMTUDown))
	}
	return s, nil
}

const (
	fieldResWidth       = 1
	fieldResHeight      = 2
	fieldResVideoHeader = 3

	fieldSIResolution         = 1
	fieldSIAudioHeader        = 2
	fieldSIStartTimeout       = 3
	fieldSIAfkTimeout         = 4
	fieldSIAfkTimeoutDisc     = 5
	fieldSICongestionControl = 6
)

// Resolution is one entry of StreamInfoPayload.Resolution, per
// stream_packets.py's msg.stream_info_payload.resolution[0] access.
type Resolution struct {
	Width       uint32
	Height      uint32
	VideoHeader []byte
}

func (r Resolution) Encode() []byte {
	var buf []byte
	buf = appendVarintField(buf, fieldResWidth, uint64(r.Width))
	buf = appendVarintField(buf, fieldResHeight, uint64(r.Height))
	buf = appendBytesField(buf, fieldResVideoHeader, r.VideoHeader)
	return buf
}

func decodeResolution(data []byte) (Resolution, error) {
	fields, err := decodeWireFields(data)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Width:       uint32(firstVarint(fields, fieldResWidth)),
		Height:      uint32(firstVarint(fields, fieldResHeight)),
		VideoHeader: firstBytes(fields, fieldResVideoHeader),
	}, nil
}

// StreamInfoPayload is the server's post-BANG announcement of stream
// parameters, per stream_packets.py:ProtoHandler.parse_streaminfo.
type StreamInfoPayload struct {
	Resolution                 []Resolution
	AudioHeader                []byte
	StartTimeout                uint32
	AfkTimeout                  uint32
	AfkTimeoutDisconnect        uint32
	CongestionControlInterval   uint32
}

func (s StreamInfoPayload) Encode() []byte {
	var buf []byte
	for _, r := range s.Resolution {
		buf = appendMessageField(buf, fieldSIResolution, r.Encode())
	}
	buf = appendBytesField(buf, fieldSIAudioHeader, s.AudioHeader)
	buf = appendVarintField(buf, fieldSIStartTimeout, uint64(s.StartTimeout))
	buf = appendVarintField(buf, fieldSIAfkTimeout, uint64(s.AfkTimeout))
	buf = appendVarintField(buf, fieldSIAfkTimeoutDisc, uint64(s.AfkTimeoutDisconnect))
	buf = appendVarintField(buf, fieldSICongestionControl, uint64(s.CongestionControlInterval))
	return buf
}

func DecodeStreamInfoPayload(data []byte) (StreamInfoPayload, error) {
	fields, err := decodeWireFields(data)
	if err != nil {
		return StreamInfoPayload{}, err
	}
	var resolutions []Resolution
	for _, raw := range allBytes(fields, fieldSIResolution) {
		r, err := decodeResolution(raw)
		if err != nil {
			return StreamInfoPayload{}, err
		}
		resolutions = append(resolutions, r)
	}
	return StreamInfoPayload{
		Resolution:                resolutions,
		AudioHeader:               firstBytes(fields, fieldSIAudioHeader),
		StartTimeout:              uint32(firstVarint(fields, fieldSIStartTimeout)),
		AfkTimeout:                uint32(firstVarint(fields, fieldSIAfkTimeout)),
		AfkTimeoutDisconnect:      uint32(firstVarint(fields, fieldSIAfkTimeoutDisc)),
		CongestionControlInterval: uint32(firstVarint(fields, fieldSICongestionControl)),
	}, nil
}

const (
	fieldCorruptStart = 1
	fieldCorruptEnd   = 2
)

// CorruptPayload announces a dropped/incomplete frame range, per
// stream_packets.py:ProtoHandler.send_corrupt_frame.
type CorruptPayload struct {
	Start uint32
	End   uint32
}

func (c CorruptPayload) Encode() []byte {
	var buf []byte
	buf = appendVarintField(buf, fieldCorruptStart, uint64(c.Start))
	buf = appendVarintField(buf, fieldCorruptEnd, uint64(c.End))
	return buf
}

func DecodeCorruptPayload(data []byte) (CorruptPayload, error) {
	fields, err := decodeWireFields(data)
	if err != nil {
		return CorruptPayload{}, err
	}
	return CorruptPayload{
		Start: uint32(firstVarint(fields, fieldCorruptStart)),
		End:   uint32(firstVarint(fields, fieldCorruptEnd)),
	}, nil
}

const fieldDisconnectReason = 1

// DisconnectPayload carries the reason string for a client-initiated
// disconnect, per stream_packets.py:ProtoHandler.disconnect_payload.
type DisconnectPayload struct {
	Reason string
}

func (d DisconnectPayload) Encode() []byte {
	return appendBytesField(nil, fieldDisconnectReason, []byte(d.Reason))
}

func DecodeDisconnectPayload(data []byte) (DisconnectPayload, error) {
	fields, err := decodeWireFields(data)
	if err != nil {
		return DisconnectPayload{}, err
	}
	return DisconnectPayload{Reason: string(firstBytes(fields, fieldDisconnectReason))}, nil
}
