package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"mlm/internal/domain"
)

// GenesisHash is the previous hash of the first line of every wallet.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ComputeHash returns the chain hash of a line. Amounts are hashed with two
// decimals and times in nanoseconds so the value survives a database round
// trip at microsecond precision.
func ComputeHash(line *domain.WalletTransaction) string {
	commission := ""
	if line.CommissionID != nil {
		commission = line.CommissionID.String()
	}
	data := fmt.Sprintf("%s:%d:%s:%s:%s:%s:%s:%d",
		line.WalletID, line.Sequence, line.Type, line.Amount.StringFixed(2),
		commission, line.Note, line.PreviousHash, line.CreatedAt.UnixNano())

	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks that lines are densely sequenced from 1 and that each
// hash links to the one before it.
func VerifyChain(lines []*domain.WalletTransaction) error {
	prevHash := GenesisHash
	for i, line := range lines {
		if line.Sequence != int64(i+1) {
			return fmt.Errorf("sequence gap at index %d: expected %d, got %d", i, i+1, line.Sequence)
		}
		if line.PreviousHash != prevHash {
			return fmt.Errorf("chain broken at sequence %d: expected prev_hash %s, got %s", line.Sequence, prevHash, line.PreviousHash)
		}
		if calc := ComputeHash(line); line.Hash != calc {
			return fmt.Errorf("hash mismatch at sequence %d: expected %s, got %s", line.Sequence, calc, line.Hash)
		}
		prevHash = line.Hash
	}
	return nil
}
