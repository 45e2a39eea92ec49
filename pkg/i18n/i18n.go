// Package i18n provides message catalogs for user-facing text.
package i18n

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Catalog maps message keys to templates. Templates use %1, %2... placeholders.
type Catalog map[string]string

// Translator resolves message keys for one locale with a fallback locale.
type Translator struct {
	locale       string
	fallback     string
	translations map[string]Catalog
	mu           sync.RWMutex
}

// NewTranslator creates a new translator.
func NewTranslator(defaultLocale string) *Translator {
	return &Translator{
		locale:       defaultLocale,
		fallback:     defaultLocale,
		translations: make(map[string]Catalog),
	}
}

// SetLocale sets the current locale.
func (t *Translator) SetLocale(locale string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locale = locale
}

// Locale returns the current locale.
func (t *Translator) Locale() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.locale
}

// SetFallback sets the fallback locale.
func (t *Translator) SetFallback(locale string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = locale
}

// Load merges a catalog into a locale.
func (t *Translator) Load(locale string, catalog Catalog) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.translations[locale] == nil {
		t.translations[locale] = make(Catalog, len(catalog))
	}
	for key, value := range catalog {
		t.translations[locale][key] = value
	}
}

// T translates a key to the current locale. Unknown keys are returned as is.
func (t *Translator) T(key string, args ...any) string {
	t.mu.RLock()
	locale := t.locale
	t.mu.RUnlock()
	return t.TLocale(locale, key, args...)
}

// TLocale translates for a specific locale.
func (t *Translator) TLocale(locale, key string, args ...any) string {
	if value, ok := t.get(locale, key); ok {
		return interpolate(value, args...)
	}

	t.mu.RLock()
	fallback := t.fallback
	t.mu.RUnlock()

	if locale != fallback {
		if value, ok := t.get(fallback, key); ok {
			return interpolate(value, args...)
		}
	}

	return key
}

// Has reports whether key exists in the current or fallback locale.
func (t *Translator) Has(key string) bool {
	t.mu.RLock()
	locale, fallback := t.locale, t.fallback
	t.mu.RUnlock()

	if _, ok := t.get(locale, key); ok {
		return true
	}
	_, ok := t.get(fallback, key)
	return ok
}

// Locales returns the loaded locales in sorted order.
func (t *Translator) Locales() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	locales := make([]string, 0, len(t.translations))
	for locale := range t.translations {
		locales = append(locales, locale)
	}
	sort.Strings(locales)
	return locales
}

func (t *Translator) get(locale, key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	catalog, ok := t.translations[locale]
	if !ok {
		return "", false
	}
	value, ok := catalog[key]
	return value, ok
}

func interpolate(template string, args ...any) string {
	result := template
	// Highest index first so %1 does not clobber %10.
	for i := len(args) - 1; i >= 0; i-- {
		placeholder := fmt.Sprintf("%%%d", i+1)
		result = strings.ReplaceAll(result, placeholder, fmt.Sprint(args[i]))
	}
	return result
}
