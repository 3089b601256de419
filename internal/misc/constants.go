package misc

const (
	// KeySizeBits is the size of the elliptic-curve keys managed by the store
	KeySizeBits = 256

	// ArgonTime Key wrapping derivation parameters
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32
	SaltSize            = 16

	// ECIES component sizes for the X9.63 SHA-256 AES-GCM scheme
	EphemeralPointSize = 65 // uncompressed P-256 point
	AESKeySize         = 32
	GCMNonceSize       = 12
	GCMTagSize         = 16

	FilePermissions = 0600 // user read + write
	DirPermissions  = 0700 // user read + write + execute
)
