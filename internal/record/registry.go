package record

import (
	"sort"
	"strings"
)

// Registry maps collection names to record descriptors. It is built once at
// startup and is read-only afterwards, so lookups need no locking.
type Registry struct {
	collections map[string]Descriptor
}

// NewRegistry parses a "collection:Type,collection:Type" declaration and
// resolves every type against the known descriptors.
func NewRegistry(decl string, known ...Descriptor) (*Registry, error) {
	if strings.TrimSpace(decl) == "" {
		return nil, configError("collection registry is empty")
	}

	types := make(map[string]Descriptor, len(known))
	for _, d := range known {
		types[d.Type] = d
	}

	collections := make(map[string]Descriptor)
	for _, entry := range strings.Split(decl, ",") {
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			return nil, configError("malformed registry entry %q: want collection:Type", strings.TrimSpace(entry))
		}

		name := strings.TrimSpace(parts[0])
		typ := strings.TrimSpace(parts[1])
		if name == "" || typ == "" {
			return nil, configError("malformed registry entry %q: empty collection or type", strings.TrimSpace(entry))
		}
		if _, dup := collections[name]; dup {
			return nil, configError("duplicate collection %q", name)
		}

		d, ok := types[typ]
		if !ok {
			return nil, configError("unknown record type %q for collection %q", typ, name)
		}
		collections[name] = d
	}

	return &Registry{collections: collections}, nil
}

func (r *Registry) Resolve(collection string) (Descriptor, error) {
	d, ok := r.collections[collection]
	if !ok {
		return Descriptor{}, configError("collection %q is not registered", collection)
	}
	return d, nil
}

// Collections returns the registered collection names in sorted order.
func (r *Registry) Collections() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
