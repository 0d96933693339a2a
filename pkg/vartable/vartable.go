// Package vartable implements the name -> bound-value map that binds
// script variable names to key material or MP_JOIN metadata discovered
// at runtime.
package vartable

import "github.com/runZeroInc/mptcpstate/pkg/hints"

// Kind tags which payload a Variable carries.
type Kind int

const (
	// KindKey tags a 64-bit MP_CAPABLE key payload.
	KindKey Kind = iota
	// KindJoinMeta tags the structured hint for a forthcoming MP_JOIN.
	KindJoinMeta
)

// Variable is one bound name. A variable is either script-defined (the
// table owns the payload) or engine-generated (the payload lives in
// session state and the table only references it).
// ScriptDefined variables copy their key value in; engine-generated
// ones hold a pointer into session-owned storage and must never be
// mutated or freed by the table.
type Variable struct {
	Name          string
	Kind          Kind
	ScriptDefined bool

	key      *uint64 // owned copy (script-defined) or a reference into session state (engine-generated)
	joinMeta *hints.MPJoinHint
}

// NewScriptDefinedKey creates an owned key variable.
func NewScriptDefinedKey(name string, key uint64) *Variable {
	k := key
	return &Variable{Name: name, Kind: KindKey, ScriptDefined: true, key: &k}
}

// NewEngineGeneratedKey creates a non-owning key variable referencing
// session-owned storage. The caller (session state) retains ownership
// of ref; the table never writes through it.
func NewEngineGeneratedKey(name string, ref *uint64) *Variable {
	return &Variable{Name: name, Kind: KindKey, ScriptDefined: false, key: ref}
}

// NewJoinMeta creates a join-meta variable (always script-defined: it
// is always parsed straight off the hint, never engine-generated).
func NewJoinMeta(name string, meta hints.MPJoinHint) *Variable {
	m := meta
	return &Variable{Name: name, Kind: KindJoinMeta, ScriptDefined: true, joinMeta: &m}
}

// Key returns the bound 64-bit key. Panics if Kind != KindKey; callers
// must check Kind first.
func (v *Variable) Key() uint64 {
	if v.Kind != KindKey {
		panic("vartable: Key() called on a non-key variable")
	}
	return *v.key
}

// JoinMeta returns the bound MP_JOIN metadata. Panics if Kind !=
// KindJoinMeta.
func (v *Variable) JoinMeta() hints.MPJoinHint {
	if v.Kind != KindJoinMeta {
		panic("vartable: JoinMeta() called on a non-join-meta variable")
	}
	return *v.joinMeta
}

// Table is the name -> Variable map. Not safe for concurrent use.
type Table struct {
	vars map[string]*Variable
}

// New returns an empty variable table.
func New() *Table {
	return &Table{vars: make(map[string]*Variable)}
}

// Bind registers v under v.Name, copying the name in. A rebind under
// the same name overwrites the previous entry; callers (the MP_CAPABLE
// handler in particular) are responsible for key-conflict checks
// before calling Bind a second time for the same key.
func (t *Table) Bind(v *Variable) {
	t.vars[v.Name] = v
}

// Lookup returns the variable bound to name, if any.
func (t *Table) Lookup(name string) (*Variable, bool) {
	v, ok := t.vars[name]
	return v, ok
}
