package accounting

import (
	"errors"
	"strings"
	"sync"
)

// Article kind tags.
const (
	KindArticle = "article"
	KindText    = "text"
	KindProduct = "product"
)

// Kind describes an article variant selected by the serialized control tag.
type Kind struct {
	Name string
	// Priced is false for lines that never carry a price or VAT.
	Priced bool
	// Init adjusts a freshly built article of this kind.
	Init func(a *Article)
}

var kindRegistry = struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}{kinds: map[string]Kind{}}

func init() {
	mustRegisterKind(Kind{Name: KindArticle, Priced: true})
	mustRegisterKind(Kind{Name: KindText, Priced: false})
	mustRegisterKind(Kind{Name: KindProduct, Priced: true, Init: func(a *Article) {
		if a.productID == 0 {
			a.productID = a.id
		}
	}})
}

// RegisterKind adds or replaces an article kind. The base kind cannot be
// replaced.
func RegisterKind(k Kind) error {
	name := normalizeKind(k.Name)
	if name == "" {
		return errors.New("accounting: kind name required")
	}
	kindRegistry.mu.Lock()
	defer kindRegistry.mu.Unlock()
	if _, exists := kindRegistry.kinds[name]; exists && name == KindArticle {
		return errors.New("accounting: base article kind is fixed")
	}
	k.Name = name
	kindRegistry.kinds[name] = k
	return nil
}

func mustRegisterKind(k Kind) {
	if err := RegisterKind(k); err != nil {
		panic(err)
	}
}

// LookupKind resolves a control tag. Unknown or empty tags resolve to the base
// article kind. Tags may be fully qualified class names; the last path
// segment is matched.
func LookupKind(tag string) Kind {
	name := normalizeKind(tag)
	kindRegistry.mu.RLock()
	defer kindRegistry.mu.RUnlock()
	if k, ok := kindRegistry.kinds[name]; ok {
		return k
	}
	return kindRegistry.kinds[KindArticle]
}

func normalizeKind(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.LastIndexAny(tag, `\/.`); i >= 0 {
		tag = tag[i+1:]
	}
	return strings.ToLower(tag)
}
