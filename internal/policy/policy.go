// Package policy is the second enforcement layer for the score-ledger
// invariants: a declarative set of per-path rules evaluated at the
// storage boundary on every identity-bearing access, independent of the
// submission pipeline. Anything the ledger transaction would refuse,
// these rules refuse too, including writes issued by tooling that never
// goes through the service.
package policy

import (
	"errors"
	"time"

	"github.com/st3v3lyrious/quiznetic/internal/store"
)

// ErrDenied is returned for any access the ruleset does not allow.
var ErrDenied = errors.New("access denied by storage policy")

// Op is the kind of access under evaluation.
type Op int

const (
	OpGet Op = iota
	OpList
	OpCreate
	OpUpdate
	OpDelete
)

// IsWrite reports whether the op mutates the store.
func (op Op) IsWrite() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// Access is the principal performing an access. System handles belong
// to the trusted server path and bypass the ruleset; the rules exist to
// guard identity-bearing client handles.
type Access struct {
	UID           string
	Authenticated bool
	System        bool
}

// SystemAccess is the trusted server principal.
var SystemAccess = Access{System: true}

// ClientAccess builds the principal for an externally verified uid.
func ClientAccess(uid string) Access {
	return Access{UID: uid, Authenticated: uid != ""}
}

// Request is one access under evaluation.
type Request struct {
	Op     Op
	Path   string
	Vars   map[string]string // bindings from the matched path pattern
	Access Access
	Old    *store.Document // existing document for writes, nil if absent
	New    []byte          // proposed document data for create/update
	Now    time.Time       // store server time of the access
}

// Rule binds a path pattern like "users/{uid}/scores/{scope}" to an
// allow predicate. Segments wrapped in braces bind into Request.Vars.
type Rule struct {
	Pattern string
	Allow   func(r Request) error
}

// Ruleset evaluates requests against its rules in order. The first rule
// whose pattern matches decides; a request matching no rule is denied.
type Ruleset []Rule

// Evaluate checks one access. System principals always pass.
func (rs Ruleset) Evaluate(r Request) error {
	if r.Access.System {
		return nil
	}
	segments := store.Split(r.Path)
	for _, rule := range rs {
		vars, ok := matchPattern(rule.Pattern, segments)
		if !ok {
			continue
		}
		r.Vars = vars
		return rule.Allow(r)
	}
	return ErrDenied
}

func matchPattern(pattern string, segments []string) (map[string]string, bool) {
	parts := store.Split(pattern)
	if len(parts) != len(segments) {
		return nil, false
	}
	vars := make(map[string]string)
	for i, part := range parts {
		if len(part) > 1 && part[0] == '{' && part[len(part)-1] == '}' {
			vars[part[1:len(part)-1]] = segments[i]
			continue
		}
		if part != segments[i] {
			return nil, false
		}
	}
	return vars, true
}
