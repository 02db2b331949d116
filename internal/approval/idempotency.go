package approval

import (
	"crypto/sha256"
	"encoding/hex"
)

const idempotencyKeyPrefix = "req_"

// IdempotencyKey derives a stable key from the request content so that a
// retried ask maps to the same remote request.
func IdempotencyKey(toolName, argsJSON, riskReason string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(argsJSON))
	h.Write([]byte{0})
	h.Write([]byte(riskReason))
	sum := h.Sum(nil)
	return idempotencyKeyPrefix + hex.EncodeToString(sum[:16])
}
