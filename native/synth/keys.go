package synth

import (
	"encoding/hex"
	"strings"
)

var (
	requestRecordPrefix    = []byte("synth/request/")
	requestIndexKey        = []byte("synth/request/index")
	lastRequestKey         = []byte("synth/request/last")
	withdrawalRecordPrefix = []byte("synth/withdrawal/")
)

func requestKey(id string) []byte {
	trimmed := strings.TrimSpace(id)
	buf := make([]byte, len(requestRecordPrefix)+len(trimmed))
	copy(buf, requestRecordPrefix)
	copy(buf[len(requestRecordPrefix):], trimmed)
	return buf
}

func withdrawalKey(requester [20]byte) []byte {
	encoded := hex.EncodeToString(requester[:])
	buf := make([]byte, len(withdrawalRecordPrefix)+len(encoded))
	copy(buf, withdrawalRecordPrefix)
	copy(buf[len(withdrawalRecordPrefix):], encoded)
	return buf
}
