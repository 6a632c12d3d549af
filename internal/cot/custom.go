// SPDX-License-Identifier: GPL-3.0-or-later

package cot

// mergeCustomInto applies a custom_cot_attrib node onto an already-built
// element, honoring the protected attribute/child-element name sets and
// the name grammar. Unrecognised or protected entries are dropped and
// reported through warn.
func mergeCustomInto(target *xmlElement, custom any, protectedAttrs, protectedChildren map[string]bool, warn func(string)) {
	m, ok := custom.(map[string]any)
	if !ok {
		return
	}
	for _, k := range sortedKeys(m) {
		cv := m[k]
		switch k {
		case "_attributes":
			attrs, ok := asStringMap(cv)
			if !ok {
				continue
			}
			for _, an := range sortedStringMapKeys(attrs) {
				av := attrs[an]
				if protectedAttrs[an] {
					warn("protected attribute " + an + " dropped")
					continue
				}
				if !validNameRe.MatchString(an) {
					warn("invalid attribute name " + an + " dropped")
					continue
				}
				target.Attrs = append(target.Attrs, xmlAttr{Name: an, Value: escapeXML(av)})
			}
		case "_text":
			if s, ok := cv.(string); ok {
				target.Text = escapeXML(s)
			}
		default:
			if protectedChildren[k] {
				warn("protected element " + k + " dropped")
				continue
			}
			if !validNameRe.MatchString(k) {
				warn("invalid element name " + k + " dropped")
				continue
			}
			target.Children = append(target.Children, buildChildElement(k, cv, warn))
		}
	}
}

// buildChildElement recursively interprets one custom_cot_attrib value
// as an XML element named name. A bare string is shorthand for
// {"_text": value}.
func buildChildElement(name string, value any, warn func(string)) *xmlElement {
	el := &xmlElement{Name: name}
	switch v := value.(type) {
	case string:
		el.Text = escapeXML(v)
	case map[string]any:
		for _, k := range sortedKeys(v) {
			cv := v[k]
			switch k {
			case "_attributes":
				attrs, ok := asStringMap(cv)
				if !ok {
					continue
				}
				for _, an := range sortedStringMapKeys(attrs) {
					if !validNameRe.MatchString(an) {
						warn("invalid attribute name " + an + " dropped")
						continue
					}
					el.Attrs = append(el.Attrs, xmlAttr{Name: an, Value: escapeXML(attrs[an])})
				}
			case "_text":
				if s, ok := cv.(string); ok {
					el.Text = escapeXML(s)
				}
			default:
				if !validNameRe.MatchString(k) {
					warn("invalid element name " + k + " dropped")
					continue
				}
				el.Children = append(el.Children, buildChildElement(k, cv, warn))
			}
		}
	}
	return el
}
