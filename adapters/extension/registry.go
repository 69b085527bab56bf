package extension

import (
	"sync"

	"github.com/layer-3/passport-sandbox/ports"
)

// Registry is the set of injected extensions visible to the dashboard
type Registry struct {
	mu         sync.RWMutex
	extensions []ports.Extension
}

// NewRegistry creates a registry holding exts
func NewRegistry(exts ...ports.Extension) *Registry {
	return &Registry{extensions: exts}
}

var _ ports.WalletProvider = (*Registry)(nil)

// Inject adds an extension, replacing one with the same name
func (r *Registry) Inject(ext ports.Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.extensions {
		if existing.Name() == ext.Name() {
			r.extensions[i] = ext
			return
		}
	}
	r.extensions = append(r.extensions, ext)
}

// Extensions returns a copy of the injected extensions
func (r *Registry) Extensions() []ports.Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ports.Extension, len(r.extensions))
	copy(out, r.extensions)
	return out
}
