// Package actid generates the instance identifier and per-call action/tx
// identifiers the dispatcher stamps onto every message.
//
// An instance identifier has five slash-delimited fields:
// <idgen>/<start_time>/<process_id>/<version>/<tag> — a random prefix, the
// instance's start timestamp, its process id, the module version and an
// optional user-supplied tag. An in-flight action id is "<local_id>/<tx>";
// a prior-call chain flattens those as "id;id;id".
package actid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	prefixLength   = 5
	maxLocalLength = 36
)

var (
	sanitizeRegex           = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	consecutiveHyphensRegex = regexp.MustCompile(`-+`)
)

// InstanceID builds the 5-field instance identifier described above.
// startTime is a unix timestamp supplied by the caller (actid never reads
// the clock itself, so instance construction stays deterministic under
// test).
func InstanceID(startTime int64, version, tag string) string {
	return strings.Join([]string{
		randomPrefix(),
		strconv.FormatInt(startTime, 10),
		strconv.Itoa(os.Getpid()),
		version,
		tag,
	}, "/")
}

// LocalID generates a unique local action id from an optional caller-supplied
// custom id. If custom is non-empty it is sanitized (keeping only
// [a-zA-Z0-9-]) and prefixed with 5 random hex characters for uniqueness;
// format "<prefix>-<sanitized>". If custom is empty or sanitizes to empty,
// falls back to a UUID.
func LocalID(custom string) string {
	sanitized := strings.ReplaceAll(custom, " ", "-")
	sanitized = sanitizeRegex.ReplaceAllString(sanitized, "")
	sanitized = consecutiveHyphensRegex.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return uuid.New().String()
	}

	prefix := randomPrefix()
	maxCustom := maxLocalLength - prefixLength - 1
	if len(sanitized) > maxCustom {
		sanitized = sanitized[:maxCustom]
	}
	return prefix + "-" + sanitized
}

// NewTx generates a fresh transaction id, used whenever a message carries
// neither tx$ nor an inherited delegate transaction.
func NewTx() string {
	return uuid.New().String()
}

// ActionID joins a local id and transaction id into the "<local>/<tx>"
// form used as the action cache key and in meta$.id.
func ActionID(local, tx string) string {
	return fmt.Sprintf("%s/%s", local, tx)
}

// SplitActionID reverses ActionID, splitting a caller-supplied id$/actid$
// on its first '/' into (local, tx). If there is no '/' the whole string is
// treated as the local id and tx is empty.
func SplitActionID(actid string) (local, tx string) {
	idx := strings.IndexByte(actid, '/')
	if idx < 0 {
		return actid, ""
	}
	return actid[:idx], actid[idx+1:]
}

// FlattenChain renders a prior-call chain of action ids as "id;id;id" for
// the per-call logger's chain field.
func FlattenChain(chain []string) string {
	return strings.Join(chain, ";")
}

func randomPrefix() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()[:prefixLength]
	}
	return hex.EncodeToString(buf)[:prefixLength]
}
