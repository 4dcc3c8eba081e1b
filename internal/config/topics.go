package config

const (
	// TopicDocumentChanges carries source.ChangeEvent JSON published by
	// services that own the document store.
	TopicDocumentChanges = "documents.changes"

	// ChannelVecsync is the consumer channel the watcher reads from.
	ChannelVecsync = "vecsync"
)
