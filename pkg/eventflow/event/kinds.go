package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// decodeFunc turns persisted JSON into typed content.
type decodeFunc func(json.RawMessage) (any, error)

// KindRegistry maps content kinds to their Go types so persisted envelopes
// decode back into the content they were created with.
type KindRegistry struct {
	mu       sync.RWMutex
	decoders map[ContentKind]decodeFunc
}

// NewKindRegistry creates an empty registry.
func NewKindRegistry() *KindRegistry {
	return &KindRegistry{decoders: make(map[ContentKind]decodeFunc)}
}

// DefaultKinds is used when no registry is supplied.
var DefaultKinds = NewKindRegistry()

// RegisterKind binds kind to T. Content of that kind decodes as a T value;
// register a pointer type to get pointers back.
func RegisterKind[T any](r *KindRegistry, kind ContentKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[kind] = func(raw json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Has reports whether kind is registered.
func (r *KindRegistry) Has(kind ContentKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[kind]
	return ok
}

// Kinds returns all registered kinds, sorted.
func (r *KindRegistry) Kinds() []ContentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]ContentKind, 0, len(r.decoders))
	for k := range r.decoders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Decode converts raw JSON into content of the given kind.
func (r *KindRegistry) Decode(kind ContentKind, raw json.RawMessage) (any, error) {
	r.mu.RLock()
	dec, ok := r.decoders[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	v, err := dec(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s content: %w", kind, err)
	}
	return v, nil
}

// envelopeJSON is the persisted form of an Envelope.
type envelopeJSON struct {
	ID           string          `json:"id,omitempty"`
	RootID       string          `json:"root_id,omitempty"`
	ParentID     string          `json:"parent_id,omitempty"`
	ParentType   Type            `json:"parent_type,omitempty"`
	SuperOwnerID string          `json:"super_owner_id,omitempty"`
	Kind         ContentKind     `json:"kind"`
	Type         Type            `json:"type"`
	Content      json.RawMessage `json:"content"`
	Original     json.RawMessage `json:"original,omitempty"`
	Properties   map[string]any  `json:"properties,omitempty"`
	Priority     Priority        `json:"priority,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	content, err := json.Marshal(e.content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	var original json.RawMessage
	if e.original != nil {
		if original, err = json.Marshal(e.original); err != nil {
			return nil, fmt.Errorf("marshal original content: %w", err)
		}
	}
	return json.Marshal(envelopeJSON{
		ID:           e.id,
		RootID:       e.rootID,
		ParentID:     e.parentID,
		ParentType:   e.parentType,
		SuperOwnerID: e.superOwnerID,
		Kind:         e.kind,
		Type:         e.typ,
		Content:      content,
		Original:     original,
		Properties:   e.properties,
		Priority:     e.priority,
	})
}

// UnmarshalJSON implements json.Unmarshaler using DefaultKinds.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeEnvelope(data, DefaultKinds)
	if err != nil {
		return err
	}
	*e = *decoded
	return nil
}

// DecodeEnvelope restores an envelope, decoding content through kinds.
// Content of an unregistered kind decodes as map[string]any.
func DecodeEnvelope(data []byte, kinds *KindRegistry) (*Envelope, error) {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if raw.Kind == "" {
		return nil, ErrEmptyKind
	}
	if kinds == nil {
		kinds = DefaultKinds
	}

	content, err := decodeContent(kinds, raw.Kind, raw.Content)
	if err != nil {
		return nil, err
	}
	if isNil(content) {
		return nil, ErrNilContent
	}

	e := &Envelope{
		id:           raw.ID,
		rootID:       raw.RootID,
		parentID:     raw.ParentID,
		parentType:   raw.ParentType,
		superOwnerID: raw.SuperOwnerID,
		kind:         raw.Kind,
		typ:          raw.Type,
		content:      content,
		properties:   raw.Properties,
		priority:     raw.Priority,
	}
	if e.properties == nil {
		e.properties = make(map[string]any)
	}
	if len(raw.Original) > 0 {
		if e.original, err = decodeContent(kinds, raw.Kind, raw.Original); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func decodeContent(kinds *KindRegistry, kind ContentKind, raw json.RawMessage) (any, error) {
	if kinds.Has(kind) {
		return kinds.Decode(kind, raw)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode %s content: %w", kind, err)
	}
	return generic, nil
}
