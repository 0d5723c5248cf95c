package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// localIDs are "<process start millis>-<counter>": unique for the process
// lifetime and unrelated to message content.
var (
	processStart = time.Now().UnixMilli()
	localSeq     atomic.Uint64
)

// NewLocalID returns a fresh client-side message identity.
func NewLocalID() string {
	return fmt.Sprintf("%d-%d", processStart, localSeq.Add(1))
}

// fingerprint identifies a payload for echoes that come back without a localId.
func fingerprint(content, attachmentRef string) string {
	sum := sha256.Sum256([]byte(content + "\x00" + attachmentRef))
	return hex.EncodeToString(sum[:])
}
