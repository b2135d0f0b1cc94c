package domain

import (
	"sort"
	"strconv"
)

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211

	// separatorByte cannot occur in valid UTF-8 and splits label names
	// from values inside the hash input.
	separatorByte = 0xFF
)

// Fingerprint identifies an alert by its label set.
// Params: 64-bit FNV-1a digest value.
// Returns: stable persisted identifier, rendered as lower-case hex.
type Fingerprint uint64

// String renders fingerprint as lower-case hex without padding.
// Params: none.
// Returns: hex text form used in storage keys and payloads.
func (f Fingerprint) String() string {
	return strconv.FormatUint(uint64(f), 16)
}

// ParseFingerprint parses hex text form back into a fingerprint.
// Params: lower-case hex string.
// Returns: fingerprint value or parse error.
func ParseFingerprint(s string) (Fingerprint, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return Fingerprint(v), nil
}

// LabelsFingerprint hashes a label map into its canonical fingerprint.
// Params: label name/value map.
// Returns: FNV-1a fold over sorted pairs; offset basis for empty map.
func LabelsFingerprint(labels map[string]string) Fingerprint {
	if len(labels) == 0 {
		return Fingerprint(fnvOffset64)
	}

	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	sum := uint64(fnvOffset64)
	for _, name := range names {
		sum = hashAdd(sum, name)
		sum = hashAddByte(sum, separatorByte)
		sum = hashAdd(sum, labels[name])
		sum = hashAddByte(sum, separatorByte)
	}
	return Fingerprint(sum)
}

// ArrayFingerprint hashes an ordered string list without sorting.
// Params: values in caller-defined order.
// Returns: fingerprint used for group label-value identity.
func ArrayFingerprint(values []string) Fingerprint {
	sum := uint64(fnvOffset64)
	for _, value := range values {
		sum = hashAdd(sum, value)
		sum = hashAddByte(sum, separatorByte)
	}
	return Fingerprint(sum)
}

func hashAdd(sum uint64, s string) uint64 {
	for i := 0; i < len(s); i++ {
		sum ^= uint64(s[i])
		sum *= fnvPrime64
	}
	return sum
}

func hashAddByte(sum uint64, b byte) uint64 {
	sum ^= uint64(b)
	sum *= fnvPrime64
	return sum
}
