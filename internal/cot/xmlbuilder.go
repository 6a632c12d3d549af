// SPDX-License-Identifier: GPL-3.0-or-later

package cot

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"sort"
)

// validNameRe matches the allowed element/attribute name grammar: an
// XML-safe identifier, not a full XML Name production.
var validNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)

// xmlAttr is one ordered attribute. Attributes render in append order,
// not sorted, so the standard/team-member branches keep their documented
// attribute order.
type xmlAttr struct {
	Name, Value string
}

// xmlElement is a hand-built XML node.
//
// encoding/xml.Marshal works from reflected struct tags and cannot
// express the exact attribute ordering, protected-name rejection, and
// bare null-byte wire framing this package needs, so events are built
// and rendered directly instead.
type xmlElement struct {
	Name     string
	Attrs    []xmlAttr
	Text     string
	Children []*xmlElement
}

func (e *xmlElement) render(buf *bytes.Buffer) {
	buf.WriteByte('<')
	buf.WriteString(e.Name)
	for _, a := range e.Attrs {
		buf.WriteByte(' ')
		buf.WriteString(a.Name)
		buf.WriteString(`="`)
		buf.WriteString(a.Value)
		buf.WriteByte('"')
	}
	if len(e.Children) == 0 && e.Text == "" {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	buf.WriteString(e.Text)
	for _, c := range e.Children {
		c.render(buf)
	}
	buf.WriteString("</")
	buf.WriteString(e.Name)
	buf.WriteByte('>')
}

// escapeXML escapes text so it is safe as either element text or an
// attribute value; xml.EscapeText covers both since it escapes quotes
// in addition to the five XML-significant characters.
func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// sortedKeys returns m's keys sorted, so repeated encodes of the same
// custom_cot_attrib tree are byte-identical regardless of Go's
// randomised map iteration order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// asStringMap accepts either a map[string]string or a map[string]any
// whose values stringify, so callers building custom_cot_attrib from
// loosely-typed sources (JSON-decoded config, for instance) still work.
func asStringMap(v any) (map[string]string, bool) {
	switch m := v.(type) {
	case map[string]string:
		return m, true
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, vv := range m {
			s, ok := vv.(string)
			if !ok {
				return nil, false
			}
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}
