package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Signer produces the signature the gateway attaches to a callback:
// hex(HMAC-SHA256(secret, paymentID|transactionID|amount)).
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(paymentID, transactionID string, amount int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(paymentID + "|" + transactionID + "|" + strconv.FormatInt(amount, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

type Verifier interface {
	Verify(cb Callback) bool
}

func (s *Signer) Verify(cb Callback) bool {
	got, err := hex.DecodeString(cb.Signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(s.Sign(cb.PaymentID, cb.TransactionID, cb.Amount))
	return hmac.Equal(got, want)
}
