// Package index implements the pattern router's storage and lookup: add an
// opaque payload under a pattern, find the most-specific pattern matching a
// message, and list patterns that are supersets of a partial pattern.
package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/evenact/dispatch/pkg/pattern"
)

// entry pairs a compiled pattern with the caller's opaque payload and the
// order it was registered in, used to break specificity ties.
type entry struct {
	set     *pattern.Set
	payload interface{}
	seq     uint64
}

// Match is one hit from List: the matching pattern's canonical form
// alongside its payload.
type Match struct {
	Canonical string
	Payload   interface{}
}

// Index stores (pattern, payload) pairs and answers most-specific-match and
// superset-enumeration queries. It is safe for concurrent use.
//
// Find doesn't scan every registered pattern: entries are additionally
// bucketed by an xxhash fingerprint of each of their keys (byKey), so a
// lookup only walks entries that share at least one key with the query —
// any pattern that matches a message must have every one of its keys
// present in that message, so it is guaranteed to appear in at least one
// of those buckets (or, if it has no keys at all, it's the catch-all,
// tracked separately).
type Index struct {
	mu       sync.RWMutex
	glob     bool
	catchall bool
	seq      uint64
	entries  map[string]*entry   // canonical pattern -> entry
	byKey    map[uint64][]*entry // key fingerprint -> entries containing that key
	catch    *entry              // the zero-key pattern, if registered
}

// New builds an empty Index. glob controls whether '*'/'?' in pattern
// values are treated as wildcards. catchall controls whether the empty
// (zero-key) pattern counts as an overridable prior for new registrations
// (internal.catchall).
func New(glob, catchall bool) *Index {
	return &Index{
		glob:     glob,
		catchall: catchall,
		entries:  make(map[string]*entry),
		byKey:    make(map[uint64][]*entry),
	}
}

// Catchall reports whether internal.catchall is enabled for this index.
func (ix *Index) Catchall() bool {
	return ix.catchall
}

// CanonicalOf renders fields into the same canonical string Add/Find use,
// so callers (the registry) can check for an exact-pattern prior without
// duplicating pattern.New.
func (ix *Index) CanonicalOf(fields map[string]string) string {
	return pattern.New(fields, ix.glob).Canonical()
}

// Add installs payload under the given fields, returning the previous
// payload registered under the identical canonical pattern (nil if none) so
// callers can chain overrides. A prior that is the catch-all pattern is
// only returned as "previous" when Catchall() is enabled — otherwise a new
// unrelated registration of the catch-all is treated as having no prior.
func (ix *Index) Add(fields map[string]string, payload interface{}) (previous interface{}) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	set := pattern.New(fields, ix.glob)
	canon := set.Canonical()

	if prior, ok := ix.entries[canon]; ok {
		if !prior.set.Empty() || ix.catchall {
			previous = prior.payload
		}
	}

	ix.seq++
	e := &entry{set: set, payload: payload, seq: ix.seq}
	ix.entries[canon] = e
	ix.reindex(e)
	return previous
}

// reindex files e into the key-fingerprint buckets (or tracks it as the
// catch-all) used to prune Find's candidate scan.
func (ix *Index) reindex(e *entry) {
	keys := e.set.Keys()
	if len(keys) == 0 {
		ix.catch = e
		return
	}
keys:
	for _, k := range keys {
		fp := fingerprint(k)
		bucket := ix.byKey[fp]
		for _, existing := range bucket {
			if existing == e {
				continue keys // another of e's keys hashed to the same bucket
			}
		}
		ix.byKey[fp] = append(bucket, e)
	}
}

// Find returns the payload of the most-specific pattern matching fields:
// specificity is key count, ties broken by later registration. Returns nil
// if nothing matches (including no catch-all registered).
func (ix *Index) Find(fields map[string]string) interface{} {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var best *entry
	seen := make(map[*entry]bool, len(fields))
	consider := func(e *entry) {
		if seen[e] || !e.set.Matches(fields) {
			return
		}
		seen[e] = true
		if best == nil || isMoreSpecific(e, best) {
			best = e
		}
	}

	for k := range fields {
		for _, e := range ix.byKey[fingerprint(k)] {
			consider(e)
		}
	}
	if ix.catch != nil {
		consider(ix.catch)
	}
	if best == nil {
		return nil
	}
	return best.payload
}

// List enumerates every registered pattern whose keys are a superset of
// partial's keys and whose corresponding values match, returning the
// canonical form and payload of each, most-specific first.
func (ix *Index) List(partial map[string]string) []Match {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	partialSet := pattern.New(partial, ix.glob)

	out := make([]Match, 0, len(ix.entries))
	for _, e := range ix.entries {
		if e.set.IsSupersetOf(partialSet) {
			out = append(out, Match{Canonical: e.set.Canonical(), Payload: e.payload})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return keyCount(out[i].Canonical) > keyCount(out[j].Canonical)
	})
	return out
}

// isMoreSpecific reports whether candidate should win over current:
// strictly more keys wins outright; a tie is broken by later registration
// (higher seq).
func isMoreSpecific(candidate, current *entry) bool {
	cn, kn := candidate.set.Len(), current.set.Len()
	if cn != kn {
		return cn > kn
	}
	return candidate.seq > current.seq
}

func keyCount(canonical string) int {
	if canonical == "" {
		return 0
	}
	return len(strings.Split(canonical, ","))
}

// fingerprint hashes a string with xxhash; Index uses it on each pattern
// key to pick that key's byKey bucket. Candidates are still confirmed with
// Set.Matches, so a hash collision only adds a candidate to the scan.
func fingerprint(canonical string) uint64 {
	return xxhash.Sum64String(canonical)
}

// Fingerprint exposes fingerprint for consumers outside this package that
// want a stable, cheap pattern identity (e.g. metrics label cardinality
// control).
func Fingerprint(canonical string) uint64 {
	return fingerprint(canonical)
}
