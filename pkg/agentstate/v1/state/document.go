package state

// Well-known document keys. Persisted documents use snake_case field names.
const (
	KeyStateVersion    = "state_version"
	KeyCurrentWorkflow = "current_workflow"
	KeyCreatedAt       = "created_at"
	KeyMetadata        = "metadata"

	MetaTimestamp      = "timestamp"
	MetaExpires        = "expires"
	MetaExtensionCount = "extension_count"
	MetaMaxExtensions  = "max_extensions"
	MetaLastAccessed   = "last_accessed"
)

// Document is an arbitrary structured state document: workflow state, a cache
// entry, or both. Values are JSON-native Go types (map[string]interface{},
// []interface{}, string, float64, bool, nil) so that a saved document loads
// back deep-equal.
type Document map[string]interface{}

// StateVersion returns the document's state_version if it is a string.
func (d Document) StateVersion() (string, bool) {
	v, ok := d[KeyStateVersion].(string)
	return v, ok
}

// Metadata returns the cache metadata object, if the document has one.
// The returned map is the document's own map; writes mutate the document.
func (d Document) Metadata() (map[string]interface{}, bool) {
	raw, exists := d[KeyMetadata]
	if !exists {
		return nil, false
	}
	switch m := raw.(type) {
	case map[string]interface{}:
		return m, true
	case Document:
		return m, true
	default:
		return nil, false
	}
}

// IsCacheEntry reports whether the document carries a metadata object.
func (d Document) IsCacheEntry() bool {
	_, ok := d.Metadata()
	return ok
}
