package event

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"

	"github.com/google/uuid"
)

// Cloner lets content types provide their own snapshot for OriginalContent.
// Types that don't implement it are deep-copied through JSON.
type Cloner interface {
	CloneContent() any
}

// Envelope carries one domain occurrence through a processor chain.
//
// An Envelope is owned by the chain executing it. It is not safe for
// concurrent use.
type Envelope struct {
	id           string
	rootID       string
	parentID     string
	parentType   Type
	superOwnerID string

	kind     ContentKind
	typ      Type
	content  any
	original any

	properties  map[string]any
	priority    Priority
	permissions []string
}

// Option configures an Envelope at construction.
type Option func(*Envelope)

// WithID sets the envelope identifier.
func WithID(id string) Option {
	return func(e *Envelope) {
		e.id = id
	}
}

// WithProperty sets a single property.
func WithProperty(key string, value any) Option {
	return func(e *Envelope) {
		e.properties[key] = value
	}
}

// WithProperties merges props into the envelope's properties.
func WithProperties(props map[string]any) Option {
	return func(e *Envelope) {
		maps.Copy(e.properties, props)
	}
}

// WithPriority presets the priority. PriorityImmediate forces synchronous
// dispatch without polling voters.
func WithPriority(p Priority) Option {
	return func(e *Envelope) {
		e.priority = p
	}
}

// WithPermissions sets the capability checks evaluated before synchronous
// processing. All of them must pass.
func WithPermissions(perms ...string) Option {
	return func(e *Envelope) {
		e.permissions = append([]string(nil), perms...)
	}
}

// WithSuperOwnerID sets the owning entity of the whole envelope tree.
func WithSuperOwnerID(id string) Option {
	return func(e *Envelope) {
		e.superOwnerID = id
	}
}

// New creates an envelope for content of the given kind and event type.
func New(kind ContentKind, typ Type, content any, opts ...Option) (*Envelope, error) {
	if kind == "" {
		return nil, ErrEmptyKind
	}
	if isNil(content) {
		return nil, ErrNilContent
	}

	e := &Envelope{
		kind:       kind,
		typ:        typ,
		content:    content,
		properties: make(map[string]any),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.original = snapshot(content)
	if e.RequiresPersistence() {
		e.EnsureID()
	}
	return e, nil
}

// NewChild creates a sub-event of parent. The parent is assigned an ID if
// it has none, and the child inherits the parent's root and super owner.
func NewChild(parent *Envelope, kind ContentKind, typ Type, content any, opts ...Option) (*Envelope, error) {
	if parent == nil {
		return nil, ErrNilEnvelope
	}
	parentID := parent.EnsureID()
	rootID := parent.rootID
	if rootID == "" {
		rootID = parentID
	}

	linked := append([]Option{func(e *Envelope) {
		e.parentID = parentID
		e.parentType = parent.typ
		e.rootID = rootID
		e.superOwnerID = parent.superOwnerID
	}}, opts...)
	return New(kind, typ, content, linked...)
}

// ID returns the envelope's identifier, empty until EnsureID assigns one.
func (e *Envelope) ID() string { return e.id }

// RootID returns the ID of the first envelope of the lineage.
func (e *Envelope) RootID() string { return e.rootID }

// ParentID returns the ID of the envelope this one was derived from.
func (e *Envelope) ParentID() string { return e.parentID }

// ParentType returns the event type of the parent envelope.
func (e *Envelope) ParentType() Type { return e.parentType }

// SuperOwnerID returns the owning entity of the whole envelope tree.
func (e *Envelope) SuperOwnerID() string { return e.superOwnerID }

// Kind returns the content kind.
func (e *Envelope) Kind() ContentKind { return e.kind }

// Type returns the event type.
func (e *Envelope) Type() Type { return e.typ }

// Priority returns the resolved priority, PriorityUnset until dispatch.
func (e *Envelope) Priority() Priority { return e.priority }

// SetPriority records the resolved priority.
func (e *Envelope) SetPriority(p Priority) {
	e.priority = p
}

// Content returns the current payload.
func (e *Envelope) Content() any {
	return e.content
}

// SetContent replaces the payload. Nil content is rejected.
func (e *Envelope) SetContent(content any) error {
	if isNil(content) {
		return ErrNilContent
	}
	e.content = content
	return nil
}

// OriginalContent returns the snapshot taken before processing started.
// Callers must treat it as read-only.
func (e *Envelope) OriginalContent() any {
	return e.original
}

// Property returns a property value.
func (e *Envelope) Property(key string) (any, bool) {
	v, ok := e.properties[key]
	return v, ok
}

// PropertyString returns a property as a string, or "" when missing or
// not a string.
func (e *Envelope) PropertyString(key string) string {
	if s, ok := e.properties[key].(string); ok {
		return s
	}
	return ""
}

// SetProperty sets a property value.
func (e *Envelope) SetProperty(key string, value any) {
	e.properties[key] = value
}

// Properties returns a copy of the property bag.
func (e *Envelope) Properties() map[string]any {
	return maps.Clone(e.properties)
}

// Permissions returns the permission checks in evaluation order.
func (e *Envelope) Permissions() []string {
	return slices.Clone(e.permissions)
}

// IsPersisted reports whether the envelope has been assigned an ID.
func (e *Envelope) IsPersisted() bool {
	return e.id != ""
}

// RequiresPersistence reports whether the envelope belongs to a tree.
func (e *Envelope) RequiresPersistence() bool {
	return e.rootID != "" || e.parentID != ""
}

// EnsureID assigns a new ID if the envelope has none and returns it.
func (e *Envelope) EnsureID() string {
	if e.id == "" {
		e.id = uuid.New().String()
	}
	return e.id
}

// EnsureRoot assigns an ID and, when the envelope is first in its lineage,
// makes it its own root.
func (e *Envelope) EnsureRoot() {
	e.EnsureID()
	if e.rootID == "" {
		e.rootID = e.id
	}
}

// ContentAs returns the envelope content as T.
func ContentAs[T any](e *Envelope) (T, bool) {
	var zero T
	if e == nil {
		return zero, false
	}
	v, ok := e.content.(T)
	return v, ok
}

// OriginalAs returns the original content snapshot as T.
func OriginalAs[T any](e *Envelope) (T, bool) {
	var zero T
	if e == nil {
		return zero, false
	}
	v, ok := e.original.(T)
	return v, ok
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// snapshot deep-copies content. Content that can't round-trip through JSON
// is returned as is.
func snapshot(content any) any {
	if c, ok := content.(Cloner); ok {
		return c.CloneContent()
	}

	data, err := json.Marshal(content)
	if err != nil {
		return content
	}

	rt := reflect.TypeOf(content)
	if rt.Kind() == reflect.Pointer {
		ptr := reflect.New(rt.Elem())
		if err := json.Unmarshal(data, ptr.Interface()); err != nil {
			return content
		}
		return ptr.Interface()
	}

	ptr := reflect.New(rt)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return content
	}
	return ptr.Elem().Interface()
}
