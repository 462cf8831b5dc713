// Package opid generates sortable identifiers for pending operations.
//
// An operation id is a fixed-width hex millisecond timestamp, a sequence
// counter disambiguating ids minted in the same millisecond, and a random
// suffix: "000001924dc0f2a10003-1b4e28ba2fa1". Lexicographic order of ids
// equals creation order within a process, which is what lets the queue
// rebuild FIFO order from a key-sorted scan after a restart.
package opid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 16 hex chars of unix milliseconds, 4 hex chars of sequence, a dash,
// 12 hex chars of randomness.
var idRegex = regexp.MustCompile(`^[0-9a-f]{20}-[0-9a-f]{12}$`)

var (
	mu         sync.Mutex
	lastMillis int64
	sequence   uint16
)

// New generates a new operation id using the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt generates an operation id for the given timestamp. Ids minted for
// the same millisecond get increasing sequence numbers.
func NewAt(t time.Time) string {
	millis := t.UnixMilli()

	mu.Lock()
	if millis == lastMillis {
		sequence++
	} else {
		lastMillis = millis
		sequence = 0
	}
	seq := sequence
	mu.Unlock()

	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("%016x%04x-%s", millis, seq, suffix)
}

// IsValid checks if a string is a well-formed operation id.
func IsValid(s string) bool {
	return idRegex.MatchString(s)
}

// Validate returns an error if the string is not a well-formed operation id.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid operation id format: %q", s)
	}
	return nil
}

// Time extracts the creation timestamp embedded in an operation id.
func Time(s string) (time.Time, error) {
	if err := Validate(s); err != nil {
		return time.Time{}, err
	}
	millis, err := strconv.ParseInt(s[:16], 16, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid operation id timestamp: %w", err)
	}
	return time.UnixMilli(millis), nil
}
