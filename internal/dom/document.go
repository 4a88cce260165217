package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/inplacehq/inplace/internal/model"
)

// Handle is a stable reference to a registered element. Handles survive tree
// mutation and are never reused while registered, so a stale handle resolves
// to nil instead of somebody else's element.
type Handle int

// NoHandle is the zero value for "no element".
const NoHandle Handle = -1

// Marker classes the core toggles on elements. Their visual meaning belongs
// to the UI layer.
const (
	ClassEditable       = "inplace-editable"
	ClassSelected       = "inplace-selected"
	ClassEditing        = "inplace-editing"
	ClassEditingSibling = "inplace-editing-sibling"
)

// AttrNames holds the data attribute names the markup contract uses,
// derived from a single configurable prefix.
type AttrNames struct {
	ID       string
	Type     string
	Group    string
	Field    string
	Template string
	Instance string
}

func Attrs(prefix string) AttrNames {
	return AttrNames{
		ID:       prefix + "-id",
		Type:     prefix + "-type",
		Group:    prefix + "-group",
		Field:    prefix + "-field",
		Template: prefix + "-template",
		Instance: prefix + "-instance",
	}
}

// Element is one discovered editable element: its handle plus the identity
// the markup declared for it.
type Element struct {
	Handle   Handle
	Key      model.Key
	Type     model.ContentType
	Template model.TemplateID
	Instance model.InstanceID
}

// Document wraps a parsed page and the handle registry for its elements.
type Document struct {
	root  *html.Node
	attrs AttrNames

	nodes map[Handle]*html.Node
	next  Handle
}

// Parse reads and parses a full HTML document.
func Parse(r io.Reader, attrs AttrNames) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("error parsing document: %w", err)
	}
	return &Document{
		root:  root,
		attrs: attrs,
		nodes: make(map[Handle]*html.Node),
	}, nil
}

func ParseString(s string, attrs AttrNames) (*Document, error) {
	return Parse(strings.NewReader(s), attrs)
}

// Render serializes the whole document back to markup.
func (d *Document) Render() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Root exposes the document root for traversal.
func (d *Document) Root() *html.Node {
	return d.root
}

// Register adds a node to the registry and returns its handle.
func (d *Document) Register(n *html.Node) Handle {
	h := d.next
	d.next++
	d.nodes[h] = n
	return h
}

// Node resolves a handle. Released handles resolve to nil.
func (d *Document) Node(h Handle) *html.Node {
	return d.nodes[h]
}

// Release forgets a handle, typically when its node is detached from the
// tree. The handle value is not reused.
func (d *Document) Release(h Handle) {
	delete(d.nodes, h)
}

// Discover walks the tree and registers every element carrying the markup
// contract's attributes, in document order. Each discovered element gets the
// editable marker class.
func (d *Document) Discover() []Element {
	var found []Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if el, ok := d.classify(n); ok {
				el.Handle = d.Register(n)
				AddClass(n, ClassEditable)
				found = append(found, el)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return found
}

// Classify derives an element's identity from its attributes without
// registering it. Used when new fragments are grafted into the tree.
func (d *Document) Classify(n *html.Node) (Element, bool) {
	return d.classify(n)
}

// classify derives an element's Key from its attributes. Template markup
// wins over group markup, group over a plain id; elements without any
// identifying attribute are not editable.
func (d *Document) classify(n *html.Node) (Element, bool) {
	el := Element{Handle: NoHandle, Type: d.declaredType(n)}

	if tmpl, ok := GetAttr(n, d.attrs.Template); ok && tmpl != "" {
		inst, _ := GetAttr(n, d.attrs.Instance)
		field, _ := GetAttr(n, d.attrs.Field)
		if inst == "" || field == "" {
			return Element{}, false
		}
		el.Template = model.TemplateID(tmpl)
		el.Instance = model.InstanceID(inst)
		el.Key = model.TemplateKey(el.Template, el.Instance, field)
		return el, true
	}

	if group, ok := GetAttr(n, d.attrs.Group); ok && group != "" {
		field, _ := GetAttr(n, d.attrs.Field)
		if field == "" {
			return Element{}, false
		}
		el.Key = model.GroupKey(group, field)
		return el, true
	}

	if id, ok := GetAttr(n, d.attrs.ID); ok && id != "" {
		el.Key = model.Key(id)
		return el, true
	}

	return Element{}, false
}

func (d *Document) declaredType(n *html.Node) model.ContentType {
	if t, ok := GetAttr(n, d.attrs.Type); ok {
		switch model.ContentType(t) {
		case model.ContentText, model.ContentHTML, model.ContentImage, model.ContentLink:
			return model.ContentType(t)
		}
	}
	// Untyped markup defaults by tag.
	switch n.Data {
	case "img":
		return model.ContentImage
	case "a":
		return model.ContentLink
	default:
		return model.ContentText
	}
}

// Attrs returns the attribute name set this document was parsed with.
func (d *Document) AttrNames() AttrNames {
	return d.attrs
}
