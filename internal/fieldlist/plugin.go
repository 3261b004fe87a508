package fieldlist

// PluginContext is the opaque, caller-supplied implementation backing a
// field declared with the fieldtypes.Caller sentinel identifier. Its
// identity (the pointer itself) is what duplicate-detection in
// configuration validation compares against — two Caller fields with
// distinct PluginContext values are distinct fields even though they share
// the same identifier.
type PluginContext interface {
	// Width is the field's fixed octet width in the packed buffer.
	Width() int
	// Pack writes this field's contribution for rec into out, which has
	// exactly Width() bytes.
	Pack(rec Record, out []byte)
	// Compare orders two Width()-byte slices; same contract as
	// bytes.Compare.
	Compare(a, b []byte) int
	// Merge folds src into acc in place; both have exactly Width() bytes.
	// Only invoked for plugin fields declared in a value FieldList.
	Merge(acc, src []byte)
	// Initial returns the initial-value bytes, or nil to zero-fill.
	Initial() []byte
}
