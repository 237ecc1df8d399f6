// Package command defines the YubiHSM2 wire command/response codes and
// the outer/inner frame layouts shared by every part of the emulator.
//
// Grounded on the teacher's commands/types.go (the tag values and the
// ResponseCommandOffset/ErrorResponseCode convention are unchanged) and
// extended with the codes the teacher never needed because it only acts
// as a client: ResetDevice, GetStorageInfo, BlinkDevice, GetPseudoRandom,
// GenerateHMACKey/WrapKey, SignPss/Pkcs1/Hmac/Ecdsa/Eddsa, VerifyHmac,
// DecryptOaep, ExportWrapped/ImportWrapped, SetLogIndex, GetOption/SetOption
// and SignAttestationCertificate.
package command

// Code identifies the operation carried by a command or response frame.
type Code uint8

const (
	ResponseOffset Code = 0x80
	ErrorCode      Code = 0x7f

	// LabelLength is the fixed width of an object label.
	LabelLength = 40

	Echo                      Code = 0x01
	CreateSession             Code = 0x03
	AuthenticateSession       Code = 0x04
	SessionMessage            Code = 0x05
	DeviceInfo                Code = 0x06
	ResetDevice               Code = 0x08
	CloseSession              Code = 0x40
	GetStorageInfo            Code = 0x41
	PutOpaqueObject           Code = 0x42
	GetOpaqueObject           Code = 0x43
	PutAuthenticationKey      Code = 0x44
	PutAsymmetricKey          Code = 0x45
	GenerateAsymmetricKey     Code = 0x46
	SignPkcs1                 Code = 0x47
	ListObjects               Code = 0x48
	DecryptPkcs1              Code = 0x49
	ExportWrapped             Code = 0x4a
	ImportWrapped             Code = 0x4b
	PutWrapKey                Code = 0x4c
	GetLogEntries             Code = 0x4d
	GetObjectInfo             Code = 0x4e
	SetOption                 Code = 0x4f
	GetOption                 Code = 0x50
	GetPseudoRandom           Code = 0x51
	PutHMACKey                Code = 0x52
	SignHMAC                  Code = 0x53
	GetPublicKey              Code = 0x54
	SignPss                   Code = 0x55
	SignEcdsa                 Code = 0x56
	DeriveEcdh                Code = 0x57
	DeleteObject              Code = 0x58
	DecryptOaep               Code = 0x59
	GenerateHMACKey           Code = 0x5a
	GenerateWrapKey           Code = 0x5b
	VerifyHMAC                Code = 0x5c
	SignAttestationCertificate Code = 0x64
	SetLogIndex               Code = 0x67
	SignEddsa                 Code = 0x6a
	BlinkDevice               Code = 0x6b
)

// DeviceError is the single-byte error taxonomy carried in 0x7f responses.
type DeviceError uint8

const (
	ErrOK                     DeviceError = 0x00
	ErrInvalidCommand         DeviceError = 0x01
	ErrInvalidData            DeviceError = 0x02
	ErrInvalidSession         DeviceError = 0x03
	ErrAuthenticationFailed   DeviceError = 0x04
	ErrSessionsFull           DeviceError = 0x05
	ErrSessionFailed          DeviceError = 0x06
	ErrStorageFailed          DeviceError = 0x07
	ErrWrongLength            DeviceError = 0x08
	ErrInsufficientPermissions DeviceError = 0x09
	ErrLogFull                DeviceError = 0x0a
	ErrObjectNotFound         DeviceError = 0x0b
	ErrInvalidID              DeviceError = 0x0c
	ErrInvalidOTP             DeviceError = 0x0d
	ErrDemoMode               DeviceError = 0x0e
	ErrCommandUnexecuted      DeviceError = 0xff
)

func (e DeviceError) Error() string {
	switch e {
	case ErrOK:
		return "OK"
	case ErrInvalidCommand:
		return "invalid command"
	case ErrInvalidData:
		return "invalid data"
	case ErrInvalidSession:
		return "invalid session"
	case ErrAuthenticationFailed:
		return "authentication failed"
	case ErrSessionsFull:
		return "sessions full"
	case ErrSessionFailed:
		return "session failed"
	case ErrStorageFailed:
		return "storage failed"
	case ErrWrongLength:
		return "wrong length"
	case ErrInsufficientPermissions:
		return "insufficient permissions"
	case ErrLogFull:
		return "log full"
	case ErrObjectNotFound:
		return "object not found"
	case ErrInvalidID:
		return "invalid id"
	case ErrInvalidOTP:
		return "invalid OTP"
	case ErrDemoMode:
		return "demo mode"
	case ErrCommandUnexecuted:
		return "command unexecuted"
	default:
		return "unknown device error"
	}
}

// ListFilterTag selects the kind of filter encoded in a ListObjects body.
type ListFilterTag uint8

const (
	ListFilterID           ListFilterTag = 0x01
	ListFilterType         ListFilterTag = 0x02
	ListFilterDomain       ListFilterTag = 0x03
	ListFilterCapabilities ListFilterTag = 0x04
	ListFilterAlgorithm    ListFilterTag = 0x05
	ListFilterLabel        ListFilterTag = 0x06

	// ListFilterPrefix and ListFilterBytes are defined by the real device
	// but have no role in the emulator's invariants; not implemented.
)

// AuditTag selects which audit setting a GetOption/SetOption call targets.
type AuditTag uint8

const (
	AuditTagCommand AuditTag = 0x01
	AuditTagForce   AuditTag = 0x03
	AuditTagFips    AuditTag = 0x04
)

// AuditOption is a three-state audit setting: On, Off, or Fix(ed-on).
type AuditOption uint8

const (
	AuditOff AuditOption = 0x00
	AuditOn  AuditOption = 0x01
	AuditFix AuditOption = 0x02
)
