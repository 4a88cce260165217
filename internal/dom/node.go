// Package dom models the host page as a golang.org/x/net/html node tree and
// provides the element handle registry the editing core works against.
package dom

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Text collects the concatenated text content of n's subtree.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

// SetText replaces n's children with a single text node.
func SetText(n *html.Node, text string) {
	removeChildren(n)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// InnerHTML renders n's children to markup.
func InnerHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// SetInnerHTML parses markup in n's own context and replaces n's children
// with the result.
func SetInnerHTML(n *html.Node, markup string) error {
	context := n
	if n.Type != html.ElementNode {
		context = &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), &html.Node{
		Type:     html.ElementNode,
		Data:     context.Data,
		DataAtom: context.DataAtom,
	})
	if err != nil {
		return err
	}

	removeChildren(n)
	for _, c := range nodes {
		n.AppendChild(c)
	}
	return nil
}

func removeChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}

// GetAttr returns the value of the named attribute.
func GetAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces the named attribute.
func SetAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr deletes the named attribute if present.
func RemoveAttr(n *html.Node, name string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// HasClass reports whether the class attribute contains the given class.
func HasClass(n *html.Node, class string) bool {
	val, _ := GetAttr(n, "class")
	for _, c := range strings.Fields(val) {
		if c == class {
			return true
		}
	}
	return false
}

// AddClass appends the class if not already present.
func AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	val, _ := GetAttr(n, "class")
	if val == "" {
		SetAttr(n, "class", class)
		return
	}
	SetAttr(n, "class", val+" "+class)
}

// RemoveClass removes the class, dropping the attribute entirely when no
// classes remain.
func RemoveClass(n *html.Node, class string) {
	val, ok := GetAttr(n, "class")
	if !ok {
		return
	}
	kept := make([]string, 0, 4)
	for _, c := range strings.Fields(val) {
		if c != class {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		RemoveAttr(n, "class")
		return
	}
	SetAttr(n, "class", strings.Join(kept, " "))
}

// CloneTree deep-copies a node and its subtree. Parent and sibling links of
// the copy are nil; attributes are copied, not shared.
func CloneTree(n *html.Node) *html.Node {
	clone := &html.Node{
		Type:     n.Type,
		Data:     n.Data,
		DataAtom: n.DataAtom,
		Attr:     append([]html.Attribute(nil), n.Attr...),
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		clone.AppendChild(CloneTree(c))
	}
	return clone
}

// Detach removes n from its parent, if any.
func Detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// SwapSiblings exchanges the positions of two element siblings under the
// same parent. Intervening whitespace text nodes stay where they are.
func SwapSiblings(a, b *html.Node) {
	if a.Parent == nil || a.Parent != b.Parent {
		return
	}
	parent := a.Parent

	aMark := &html.Node{Type: html.CommentNode}
	bMark := &html.Node{Type: html.CommentNode}
	parent.InsertBefore(aMark, a)
	parent.InsertBefore(bMark, b)
	parent.RemoveChild(a)
	parent.RemoveChild(b)
	parent.InsertBefore(b, aMark)
	parent.InsertBefore(a, bMark)
	parent.RemoveChild(aMark)
	parent.RemoveChild(bMark)
}

// InsertAfter places n immediately after ref under ref's parent.
func InsertAfter(n, ref *html.Node) {
	if ref.Parent == nil {
		return
	}
	if ref.NextSibling != nil {
		ref.Parent.InsertBefore(n, ref.NextSibling)
		return
	}
	ref.Parent.AppendChild(n)
}
