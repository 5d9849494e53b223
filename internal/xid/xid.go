// Package xid mints prefixed record ids. The creation instant is embedded
// fixed-width so ids minted later compare greater as strings; the stores use
// that for deterministic ordering when two records share an occurred-at.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%016x", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%016x-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
