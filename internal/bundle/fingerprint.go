package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Fingerprint computes a deterministic content hash of a payload: SHA-256 over
// a canonicalized, key-sorted JSON serialization. Two structurally identical
// payloads hash the same regardless of when they were submitted; submission
// metadata is excluded by the callers, which fingerprint the content section
// only.
func Fingerprint(v any) (string, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}

	var buf bytes.Buffer
	writeCanonical(&buf, generic)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// RawFingerprint hashes a payload that failed to decode, so even rejected
// submissions get a stable audit correlation key.
func RawFingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func writeCanonical(buf *bytes.Buffer, v any) {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(key))
			buf.WriteByte(':')
			writeCanonical(buf, value[key])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, item)
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(value.String())
	case string:
		buf.WriteString(strconv.Quote(value))
	case bool:
		buf.WriteString(strconv.FormatBool(value))
	case nil:
		buf.WriteString("null")
	default:
		// json.Decode into any only yields the cases above.
		encoded, _ := json.Marshal(value)
		buf.Write(encoded)
	}
}
