// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package i18n

import "golang.org/x/text/language"

// =============================================================================
// LOCALE CATALOG
// =============================================================================

// Key identifies one translatable string.
type Key string

const (
	// KeyStreamError is the fallback body for a stream failure that
	// carried no usable message.
	KeyStreamError Key = "stream_error"

	// KeyGenerationStopped is the marker appended when the user stops
	// generation mid-stream.
	KeyGenerationStopped Key = "generation_stopped"

	// KeyPermissionDenied is the transcript line for a denied permission
	// request. Formatted with the permission's display name.
	KeyPermissionDenied Key = "permission_denied"

	// KeyBlockedAction is the generic phrase used when a permission error
	// names no concrete action.
	KeyBlockedAction Key = "blocked_action"
)

var supported = []language.Tag{
	language.English, // first entry is the fallback
	language.French,
}

var matcher = language.NewMatcher(supported)

var catalog = map[language.Tag]map[Key]string{
	language.English: {
		KeyStreamError:       "An error occurred during generation.",
		KeyGenerationStopped: "\n\n[Generation stopped]",
		KeyPermissionDenied:  "Permission %s was denied. The request was not sent.",
		KeyBlockedAction:     "complete this request",
	},
	language.French: {
		KeyStreamError:       "Une erreur est survenue pendant la génération.",
		KeyGenerationStopped: "\n\n[Génération arrêtée]",
		KeyPermissionDenied:  "La permission %s a été refusée. La requête n'a pas été envoyée.",
		KeyBlockedAction:     "terminer cette requête",
	},
}

// Catalog resolves strings for one negotiated locale.
type Catalog struct {
	tag language.Tag
}

// ForLocale negotiates the closest supported locale for the given BCP 47
// string. Unknown or empty locales fall back to English.
func ForLocale(locale string) *Catalog {
	tag, err := language.Parse(locale)
	if err != nil {
		return &Catalog{tag: language.English}
	}
	_, idx, _ := matcher.Match(tag)
	return &Catalog{tag: supported[idx]}
}

// Tag returns the negotiated locale.
func (c *Catalog) Tag() language.Tag { return c.tag }

// Get returns the string for key in the catalog's locale, falling back
// to English for keys a locale has not translated yet.
func (c *Catalog) Get(key Key) string {
	if s, ok := catalog[c.tag][key]; ok {
		return s
	}
	return catalog[language.English][key]
}
