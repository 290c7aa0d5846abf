package session

import (
	"crypto/rand"
	"math/big"

	"github.com/cockroachdb/errors"
)

// IDLength es la longitud fija del SID.
const IDLength = 20

const idLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var idMax = big.NewInt(int64(len(idLetters)))

// NewID genera un SID de IDLength letras mayúsculas con distribución uniforme.
func NewID() (string, error) {
	b := make([]byte, IDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, idMax)
		if err != nil {
			return "", errors.Wrap(err, "session: failed to generate id")
		}
		b[i] = idLetters[n.Int64()]
	}
	return string(b), nil
}

// ValidID verifica forma: longitud fija y sólo A-Z.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 'A' || id[i] > 'Z' {
			return false
		}
	}
	return true
}
