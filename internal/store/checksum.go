package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/aescanero/dagflow/pkg/domain"
)

// RecordChecksum digests the canonical JSON of owner, state and context.
// encoding/json sorts map keys, so equal contexts produce equal digests.
func RecordChecksum(rec *domain.StateRecord) string {
	return digest(struct {
		OwnerID string                 `json:"owner_id"`
		State   string                 `json:"state"`
		Context map[string]interface{} `json:"context"`
	}{rec.OwnerID, rec.State, rec.Context})
}

// SnapshotChecksum digests the canonical JSON of a state map.
func SnapshotChecksum(states map[string]*domain.StateRecord) string {
	return digest(states)
}

func digest(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Values encoding/json rejects digest as the error text.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
