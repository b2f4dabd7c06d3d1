// Package codec selects the JSON implementation that decodes custom
// aggregate requests and renders EXPLAIN output.
//
// Custom aggregates arrive as opaque JSON, so the choice of codec decides
// which dialect quirks are accepted (duplicate keys, number handling).
package codec

// Codec encodes and decodes JSON.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	MarshalIndent(v any, prefix, indent string) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used when none is configured.
var Default Codec = GoJSON{}

// Names lists the built-in codecs.
func Names() []string { return []string{GoJSON{}.Name(), JSON{}.Name()} }

// ByName returns a built-in codec by its stable name. The empty name
// selects Default.
func ByName(name string) (Codec, bool) {
	switch name {
	case "":
		return Default, true
	case GoJSON{}.Name():
		return GoJSON{}, true
	case JSON{}.Name():
		return JSON{}, true
	}
	return nil, false
}

// Or returns c, or Default if c is nil.
func Or(c Codec) Codec {
	if c == nil {
		return Default
	}
	return c
}

// Indent renders v as JSON indented by two spaces. Map keys are sorted by
// both built-in codecs, so the output of equal values is byte-identical.
func Indent(c Codec, v any) ([]byte, error) {
	return Or(c).MarshalIndent(v, "", "  ")
}
