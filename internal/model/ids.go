// Package model defines the core data types shared across the SDK: content
// keys, typed ids, content envelopes and API payloads.
package model

import "strings"

type AppID string

type UserID string

// Key identifies one logical content slot. One Key may be rendered by
// multiple page elements (groups, repeated templates), which must stay
// content-synchronized.
type Key string

type TemplateID string

type InstanceID string

const orderField = "_order"

// GroupKey builds the key for a field shared by a named group of elements.
func GroupKey(group, field string) Key {
	return Key(group + ":" + field)
}

// TemplateKey builds the key for one field of one template instance.
func TemplateKey(template TemplateID, instance InstanceID, field string) Key {
	return Key(string(template) + "." + string(instance) + "." + field)
}

// OrderKey is the key under which a template's instance order is persisted.
func OrderKey(template TemplateID) Key {
	return Key(string(template) + "." + orderField)
}

// ParseTemplateKey splits a template-scoped key into its parts. The order
// marker key parses with an empty instance id and the reserved order field.
func ParseTemplateKey(k Key) (template TemplateID, instance InstanceID, field string, ok bool) {
	parts := strings.SplitN(string(k), ".", 3)
	switch len(parts) {
	case 2:
		if parts[1] != orderField {
			return "", "", "", false
		}
		return TemplateID(parts[0]), "", orderField, true
	case 3:
		if parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return "", "", "", false
		}
		return TemplateID(parts[0]), InstanceID(parts[1]), parts[2], true
	default:
		return "", "", "", false
	}
}

// IsOrderKey reports whether k is a template order marker.
func IsOrderKey(k Key) bool {
	return strings.HasSuffix(string(k), "."+orderField)
}

// BelongsToTemplate reports whether k is scoped to the given template,
// including its order marker.
func BelongsToTemplate(k Key, template TemplateID) bool {
	return strings.HasPrefix(string(k), string(template)+".")
}
