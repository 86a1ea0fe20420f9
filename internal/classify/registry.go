package classify

import (
	"sync"

	"github.com/spolu/ingestd/internal/provider"
)

// Registry is the provider-keyed classifier dispatch table.
type Registry struct {
	classifiers map[provider.Kind]Classifier
	mu          sync.RWMutex
}

// NewRegistry creates a registry pre-populated with the built-in
// per-provider status tables.
func NewRegistry() *Registry {
	r := &Registry{classifiers: make(map[provider.Kind]Classifier)}
	for kind, statuses := range providerStatusTables {
		r.classifiers[kind] = &statusClassifier{provider: kind, statuses: statuses}
	}
	return r
}

// Register replaces the classifier for a provider kind.
func (r *Registry) Register(kind provider.Kind, c Classifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[kind] = c
}

// Classify maps err for the given provider. Unknown providers use the
// shared heuristics with an empty status table.
func (r *Registry) Classify(kind provider.Kind, err error) Kind {
	r.mu.RLock()
	c, ok := r.classifiers[kind]
	r.mu.RUnlock()

	if !ok {
		c = &statusClassifier{provider: kind}
	}
	return c.Classify(err)
}

// Wrap classifies err and wraps it with its kind.
func (r *Registry) Wrap(kind provider.Kind, err error) *Error {
	return &Error{Kind: r.Classify(kind, err), Err: err}
}

// providerStatusTables holds per-provider deviations from the shared
// defaults. Only statuses whose meaning differs from the generic
// mapping need an entry.
var providerStatusTables = map[provider.Kind]map[int]Kind{
	provider.KindSlack: {
		// Slack reports revoked tokens as 200-with-error upstream; the
		// adapter surfaces them as 401.
		401: KindAuth,
		429: KindTransient,
	},
	provider.KindConfluence: {
		// Confluence Cloud returns 403 for pages in restricted spaces
		// the token can no longer see; treat as gone, not as a broken
		// connector.
		403: KindPermanentItem,
		404: KindPermanentItem,
	},
	provider.KindNotion: {
		400: KindPermanentItem, // archived/deleted blocks
		429: KindTransient,
	},
	provider.KindZendesk: {
		403: KindAuth,
		422: KindPermanentItem, // tickets in deleted brands
	},
	provider.KindGitHub: {
		// Secondary rate limits come back as 403 with a retry header.
		403: KindTransient,
		451: KindPermanentItem, // DMCA-blocked repositories
	},
	provider.KindGoogleDrive: {
		403: KindTransient, // quota exceeded shares the status with denials
		404: KindPermanentItem,
	},
	provider.KindWebcrawler: {
		404: KindPermanentItem,
		410: KindPermanentItem,
	},
}
