/*
Package event provides the data model that flows through a processor chain.

# Envelope

An Envelope carries one domain occurrence: the content being acted on, the
event type (CREATE, UPDATE, DELETE or a custom tag) and an explicit content
kind. Processors select envelopes by comparing kinds, so two Go types that
share a kind are treated identically and one Go type can be published under
several kinds.

	env, err := event.New("identity", event.TypeUpdate, &Identity{Name: "ada"},
	    event.WithProperty(event.PropertyCorrelationID, "req-42"))

The content present at construction is snapshotted and exposed through
OriginalContent so processors can compare before and after. Content may be
replaced with SetContent, which rejects nil.

Envelopes form trees: NewChild links a sub-event to its parent and root.
An envelope that has a parent or root must be persisted, so it always
carries an ID.

# Context and Result

Each processor invocation yields a Result. A Context accumulates results
for one envelope run in execution order. Only the latest result decides
whether the run is closed or suspended, and its processed order is the
resume cursor.

	ec := event.NewContext()
	ec.AddResult(res)
	if ec.IsSuspended() {
	    cursor, _ := ec.ProcessedOrder()
	    ...
	}

# Persistence

Envelopes marshal to JSON with content stored as raw JSON next to its kind.
DecodeEnvelope restores typed content through a KindRegistry. Permissions
are request scoped and never persisted.
*/
package event
