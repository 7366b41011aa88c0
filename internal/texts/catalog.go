// ABOUTME: TOML message catalog with an embedded default and optional override file
// ABOUTME: Resolves dotted message keys and action labels for outbound text

package texts

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/olymp-desk/internal/chat"
)

//go:embed default.toml
var defaultTOML string

// Catalog resolves message keys to text.
type Catalog struct {
	messages map[string]string
	labels   map[string]string
	grades   []string
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := parse(defaultTOML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load returns the embedded catalog overlaid with the file at path. An
// empty path returns the defaults.
func Load(path string) (*Catalog, error) {
	base := Default()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading texts file: %w", err)
	}
	override, err := parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing texts file: %w", err)
	}

	maps.Copy(base.messages, override.messages)
	maps.Copy(base.labels, override.labels)
	if len(override.grades) > 0 {
		base.grades = override.grades
	}
	return base, nil
}

func parse(src string) (*Catalog, error) {
	var raw map[string]any
	if _, err := toml.Decode(src, &raw); err != nil {
		return nil, err
	}

	c := &Catalog{
		messages: make(map[string]string),
		labels:   make(map[string]string),
	}
	for section, v := range raw {
		switch section {
		case "grades":
			list, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("grades must be a list of strings")
			}
			for _, g := range list {
				s, ok := g.(string)
				if !ok {
					return nil, fmt.Errorf("grades must be a list of strings")
				}
				c.grades = append(c.grades, s)
			}
		case "labels":
			table, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("labels must be a table")
			}
			for id, label := range table {
				c.labels[id] = fmt.Sprint(label)
			}
		default:
			table, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("section %q must be a table", section)
			}
			for name, msg := range table {
				s, ok := msg.(string)
				if !ok {
					return nil, fmt.Errorf("%s.%s must be a string", section, name)
				}
				c.messages[section+"."+name] = s
			}
		}
	}
	return c, nil
}

// Get returns the message for key, formatted with args. A missing key
// returns the key itself so the gap is visible in chat.
func (c *Catalog) Get(key string, args ...any) string {
	msg, ok := c.messages[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Has reports whether key is defined.
func (c *Catalog) Has(key string) bool {
	_, ok := c.messages[key]
	return ok
}

// Label returns the button label for an action id. Parameterized ids such
// as "reply_42" fall back to the label of their prefix.
func (c *Catalog) Label(id string) string {
	if l, ok := c.labels[id]; ok {
		return l
	}
	if i := strings.LastIndexByte(id, '_'); i > 0 {
		if l, ok := c.labels[id[:i]]; ok {
			return l
		}
	}
	return id
}

// Actions builds labelled actions for the ids.
func (c *Catalog) Actions(ids ...string) []chat.Action {
	out := make([]chat.Action, 0, len(ids))
	for _, id := range ids {
		out = append(out, chat.Action{ID: id, Label: c.Label(id)})
	}
	return out
}

// Fill sets the label of every action that has none.
func (c *Catalog) Fill(actions []chat.Action) []chat.Action {
	out := make([]chat.Action, len(actions))
	for i, a := range actions {
		if a.Label == "" {
			a.Label = c.Label(a.ID)
		}
		out[i] = a
	}
	return out
}

// Grades returns the selectable grade labels in order.
func (c *Catalog) Grades() []string {
	return append([]string(nil), c.grades...)
}

// Markdown builds a Markdown chat.Text for key with the given actions.
func (c *Catalog) Markdown(key string, actions []string, args ...any) chat.Text {
	return chat.Text{Body: c.Get(key, args...), Format: chat.FormatMarkdown, Actions: c.Actions(actions...)}
}
