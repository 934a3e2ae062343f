package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxLength is the longest password bcrypt accepts, in bytes.
const MaxLength = 72

var ErrPasswordTooLong = errors.New("password is longer than 72 bytes")

// Hasher hashes passwords with bcrypt. The cost is encoded into every hash,
// so changing it only affects newly created hashes.
type Hasher struct {
	cost int
}

// New returns a Hasher using cost, clamped to bcrypt's allowed range.
func New(cost int) *Hasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(password string) ([]byte, error) {
	const op = "password.Hash"

	if len(password) > MaxLength {
		return nil, fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return hash, nil
}

// Verify reports whether password matches hash. A mismatch is not an error;
// only a malformed hash is. Passwords over MaxLength never match, since bcrypt
// would compare only their first MaxLength bytes.
func (h *Hasher) Verify(password string, hash []byte) (bool, error) {
	const op = "password.Verify"

	if len(password) > MaxLength {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%s: %w", op, err)
	}
}

// Cost returns the cost recorded in hash.
func Cost(hash []byte) (int, error) {
	return bcrypt.Cost(hash)
}
