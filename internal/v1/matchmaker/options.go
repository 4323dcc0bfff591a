package matchmaker

// ClientOptions is the opaque option bag clients send with a matchmaking
// request. It stays schemaless at this boundary; handlers project the keys
// they care about through their filter declaration.
type ClientOptions map[string]any

// Merge returns a copy of opts with every key from overrides applied on top.
// Neither input is mutated.
func (opts ClientOptions) Merge(overrides ClientOptions) ClientOptions {
	out := make(ClientOptions, len(opts)+len(overrides))
	for k, v := range opts {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// String reads a string-typed option, returning "" when absent or mistyped.
func (opts ClientOptions) String(key string) string {
	s, _ := opts[key].(string)
	return s
}
