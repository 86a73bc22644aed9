package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

const referenceAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

var (
	bookingSuffix     = mustNanoid(6)
	transactionSuffix = mustNanoid(12)
)

func mustNanoid(length int) func() string {
	gen, err := nanoid.CustomASCII(referenceAlphabet, length)
	if err != nil {
		panic(fmt.Sprintf("nanoid generator: %v", err))
	}
	return gen
}

// ==================== OTP ====================

// GenerateOTP returns a numeric code of the given length from crypto/rand.
func GenerateOTP(length int) (string, error) {
	if length <= 0 {
		length = 6
	}

	var sb strings.Builder
	sb.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate otp digit: %w", err)
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}

	return sb.String(), nil
}

// ==================== REFERENCES ====================

// GenerateBookingNumber creates a human-readable booking number.
// Format: BRK-YYYYMMDD-XXXXXX
func GenerateBookingNumber(now time.Time) string {
	return fmt.Sprintf("BRK-%s-%s", now.Format("20060102"), bookingSuffix())
}

// GenerateTransactionID creates the gateway transaction id (idempotency key).
// Format: TXN-XXXXXXXXXXXX
func GenerateTransactionID() string {
	return "TXN-" + transactionSuffix()
}
