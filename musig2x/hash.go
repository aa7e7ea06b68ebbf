package musig2x

import "crypto/sha256"

func sha256Sum(b [32]byte) [32]byte {
	return sha256.Sum256(b[:])
}
