package catalog

import (
	"encoding/json"
	"time"
)

// MemeOption describes one typed option a meme template accepts.
// Type is one of "boolean", "integer", "float", "string".
type MemeOption struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Default     any         `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
	Minimum     *float64    `json:"minimum,omitempty"`
	Maximum     *float64    `json:"maximum,omitempty"`
	Choices     []string    `json:"choices,omitempty"`
	ParserFlags ParserFlags `json:"parser_flags"`
}

type ParserFlags struct {
	Long         bool     `json:"long"`
	Short        bool     `json:"short"`
	LongAliases  []string `json:"long_aliases,omitempty"`
	ShortAliases []string `json:"short_aliases,omitempty"`
}

// UnmarshalJSON keeps the wire default of long=true when the field is
// absent.
func (p *ParserFlags) UnmarshalJSON(data []byte) error {
	type alias ParserFlags
	tmp := alias{Long: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*p = ParserFlags(tmp)
	return nil
}

type MemeParams struct {
	MinImages    int          `json:"min_images"`
	MaxImages    int          `json:"max_images"`
	MinTexts     int          `json:"min_texts"`
	MaxTexts     int          `json:"max_texts"`
	DefaultTexts []string     `json:"default_texts,omitempty"`
	Options      []MemeOption `json:"options,omitempty"`
}

// Shortcut is a regex-triggered alias that pre-fills texts/options/names
// from named capture groups via {group} templates.
type Shortcut struct {
	Pattern   string         `json:"pattern"`
	Humanized string         `json:"humanized,omitempty"`
	Texts     []string       `json:"texts,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	Names     []string       `json:"names,omitempty"`
}

// MemeInfo is immutable once loaded; the catalog replaces the whole set on
// refresh instead of mutating entries in place.
type MemeInfo struct {
	Key         string     `json:"key"`
	Params      MemeParams `json:"params"`
	Keywords    []string   `json:"keywords,omitempty"`
	Shortcuts   []Shortcut `json:"shortcuts,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	DateCreated time.Time  `json:"date_created"`
}

// DisplayName is the first keyword when present, else the key.
func (m *MemeInfo) DisplayName() string {
	if len(m.Keywords) > 0 {
		return m.Keywords[0]
	}
	return m.Key
}
