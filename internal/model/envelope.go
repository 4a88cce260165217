package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ContentType discriminates how an envelope's payload is applied to an element.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentHTML  ContentType = "html"
	ContentImage ContentType = "image"
	ContentLink  ContentType = "link"
	ContentOrder ContentType = "order"
)

var ErrMalformedEnvelope = errors.New("malformed content envelope")

// Envelope is the typed serialization of one Key's content. Exactly which
// fields are meaningful depends on Type:
//
//	text, html: Value
//	image:      Src
//	link:       Href, Target, Value (link text markup)
//	order:      Order
//
// Tagged is false for payloads decoded without a "type" field. Those are
// legacy data: the raw fields are kept and interpretation falls back to the
// Key's declared type.
type Envelope struct {
	Type       ContentType
	Value      string
	Src        string
	Href       string
	Target     string
	Order      []InstanceID
	Attributes map[string]string
	Tagged     bool
}

type envelopeWire struct {
	Type       ContentType       `json:"type,omitempty"`
	Value      json.RawMessage   `json:"value,omitempty"`
	Src        string            `json:"src,omitempty"`
	Href       string            `json:"href,omitempty"`
	Target     string            `json:"target,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Encode serializes the envelope to its canonical JSON form. Struct field
// order is fixed and map keys are sorted by encoding/json, so equal envelopes
// always encode to equal strings; dirty tracking relies on that.
func (e Envelope) Encode() (string, error) {
	w := envelopeWire{
		Type:       e.Type,
		Src:        e.Src,
		Href:       e.Href,
		Target:     e.Target,
		Attributes: e.Attributes,
	}

	var value any
	if e.Type == ContentOrder {
		value = e.Order
	} else if e.Value != "" || e.Type == ContentText || e.Type == ContentHTML {
		value = e.Value
	}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("error encoding envelope value: %w", err)
		}
		w.Value = raw
	}

	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("error encoding envelope: %w", err)
	}
	return string(data), nil
}

// MustEncode is Encode for envelopes built from in-memory values, which
// cannot fail to marshal.
func (e Envelope) MustEncode() string {
	s, err := e.Encode()
	if err != nil {
		panic(err)
	}
	return s
}

// DecodeEnvelope parses a serialized envelope. Payloads that are not JSON
// objects return ErrMalformedEnvelope; callers treat that as "leave the
// element alone", never as a failure to surface.
func DecodeEnvelope(content string) (Envelope, error) {
	var w envelopeWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	e := Envelope{
		Type:       w.Type,
		Src:        w.Src,
		Href:       w.Href,
		Target:     w.Target,
		Attributes: w.Attributes,
		Tagged:     w.Type != "",
	}

	if len(w.Value) > 0 {
		// The order variant carries a list; everything else a string. Untyped
		// payloads get whichever decodes, preserved for the fallback path.
		var ids []InstanceID
		var s string
		switch {
		case w.Type == ContentOrder:
			if err := json.Unmarshal(w.Value, &ids); err != nil {
				return Envelope{}, fmt.Errorf("%w: order value: %v", ErrMalformedEnvelope, err)
			}
			e.Order = ids
		case json.Unmarshal(w.Value, &s) == nil:
			e.Value = s
		case json.Unmarshal(w.Value, &ids) == nil:
			e.Order = ids
		default:
			return Envelope{}, fmt.Errorf("%w: unsupported value shape", ErrMalformedEnvelope)
		}
	}

	return e, nil
}

// TextEnvelope, HTMLEnvelope, ImageEnvelope, LinkEnvelope and OrderEnvelope
// build the respective tagged variants.

func TextEnvelope(value string, attrs map[string]string) Envelope {
	return Envelope{Type: ContentText, Value: value, Attributes: attrs, Tagged: true}
}

func HTMLEnvelope(value string, attrs map[string]string) Envelope {
	return Envelope{Type: ContentHTML, Value: value, Attributes: attrs, Tagged: true}
}

func ImageEnvelope(src string, attrs map[string]string) Envelope {
	return Envelope{Type: ContentImage, Src: src, Attributes: attrs, Tagged: true}
}

func LinkEnvelope(href, target, value string, attrs map[string]string) Envelope {
	return Envelope{Type: ContentLink, Href: href, Target: target, Value: value, Attributes: attrs, Tagged: true}
}

func OrderEnvelope(order []InstanceID) Envelope {
	return Envelope{Type: ContentOrder, Order: order, Tagged: true}
}
