package workspace

import (
	"fmt"
	"strings"
	"sync"
)

// HostName computes the computer name once.
type HostName struct {
	mu     sync.Mutex
	lookup func() (string, error)
	name   string
}

// NewHostName uses lookup, or the operating system when lookup is nil.
func NewHostName(lookup func() (string, error)) *HostName {
	if lookup == nil {
		lookup = systemHostName
	}
	return &HostName{lookup: lookup}
}

// Get returns the host name without any DNS suffix. It panics when the
// host name cannot be determined.
func (h *HostName) Get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.name == "" {
		name, err := h.lookup()
		if err != nil || name == "" {
			panic(fmt.Sprintf("cannot retrieve host name: %v", err))
		}
		h.name = ShortName(name)
	}
	return h.name
}

// ShortName strips the DNS suffix from a host name.
func ShortName(host string) string {
	name, _, _ := strings.Cut(host, ".")
	return name
}
