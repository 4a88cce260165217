package dom

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/inplacehq/inplace/internal/model"
)

const discoverPage = `<html><body>
<h1 data-inplace-id="title">Welcome</h1>
<p data-inplace-group="hero" data-inplace-field="tagline">One</p>
<p data-inplace-group="hero" data-inplace-field="tagline">Two</p>
<div data-inplace-template="features" data-inplace-instance="aaaa1111" data-inplace-field="name" data-inplace-type="html"><b>F1</b></div>
<img src="/a.png" data-inplace-id="logo">
<a href="/x" data-inplace-id="cta">Go</a>
<span>not editable</span>
</body></html>`

func mustParse(t *testing.T, page string) *Document {
	t.Helper()
	doc, err := ParseString(page, Attrs("data-inplace"))
	if err != nil {
		t.Fatalf("Unexpected parse error: %v", err)
	}
	return doc
}

func TestDiscover(t *testing.T) {
	doc := mustParse(t, discoverPage)
	els := doc.Discover()

	if len(els) != 6 {
		t.Fatalf("Expected 6 editable elements, got %d", len(els))
	}

	byKey := make(map[model.Key][]Element)
	for _, el := range els {
		byKey[el.Key] = append(byKey[el.Key], el)
	}

	if len(byKey["title"]) != 1 {
		t.Error("Expected plain id element")
	}
	if got := len(byKey[model.GroupKey("hero", "tagline")]); got != 2 {
		t.Errorf("Expected 2 grouped elements under one key, got %d", got)
	}

	tmplKey := model.TemplateKey("features", "aaaa1111", "name")
	tmplEls := byKey[tmplKey]
	if len(tmplEls) != 1 {
		t.Fatal("Expected template element")
	}
	if tmplEls[0].Type != model.ContentHTML {
		t.Errorf("Expected declared html type, got %q", tmplEls[0].Type)
	}
	if tmplEls[0].Template != "features" || tmplEls[0].Instance != "aaaa1111" {
		t.Errorf("Expected template identity, got %+v", tmplEls[0])
	}

	if byKey["logo"][0].Type != model.ContentImage {
		t.Error("Expected img tag to default to image type")
	}
	if byKey["cta"][0].Type != model.ContentLink {
		t.Error("Expected a tag to default to link type")
	}

	for _, el := range els {
		if !HasClass(doc.Node(el.Handle), ClassEditable) {
			t.Errorf("Expected %q to carry the editable class", el.Key)
		}
	}
}

func TestHandles(t *testing.T) {
	doc := mustParse(t, discoverPage)
	els := doc.Discover()

	h := els[0].Handle
	if doc.Node(h) == nil {
		t.Fatal("Expected registered handle to resolve")
	}

	doc.Release(h)
	if doc.Node(h) != nil {
		t.Error("Expected released handle to resolve to nil")
	}

	// New registrations never reuse the released value.
	h2 := doc.Register(doc.Root())
	if h2 == h {
		t.Error("Expected handle values not to be reused")
	}
}

func TestNodeHelpers(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="a" class="x y"><b>bold</b> text</div></body></html>`)
	var div = findByAttr(doc, "id", "a")
	if div == nil {
		t.Fatal("div not found")
	}

	t.Run("Text", func(t *testing.T) {
		if got := Text(div); got != "bold text" {
			t.Errorf("Expected 'bold text', got %q", got)
		}
	})

	t.Run("InnerHTML and SetInnerHTML", func(t *testing.T) {
		markup, err := InnerHTML(div)
		if err != nil {
			t.Fatal(err)
		}
		if markup != "<b>bold</b> text" {
			t.Errorf("Expected '<b>bold</b> text', got %q", markup)
		}

		if err := SetInnerHTML(div, "<strong>Bold Title</strong>"); err != nil {
			t.Fatal(err)
		}
		markup, _ = InnerHTML(div)
		if markup != "<strong>Bold Title</strong>" {
			t.Errorf("Expected replaced markup, got %q", markup)
		}
	})

	t.Run("SetText escapes markup", func(t *testing.T) {
		SetText(div, "a < b")
		markup, _ := InnerHTML(div)
		if markup != "a &lt; b" {
			t.Errorf("Expected escaped text, got %q", markup)
		}
	})

	t.Run("Classes", func(t *testing.T) {
		if !HasClass(div, "x") || !HasClass(div, "y") {
			t.Error("Expected existing classes")
		}
		AddClass(div, "z")
		AddClass(div, "z")
		val, _ := GetAttr(div, "class")
		if val != "x y z" {
			t.Errorf("Expected 'x y z', got %q", val)
		}
		RemoveClass(div, "y")
		val, _ = GetAttr(div, "class")
		if val != "x z" {
			t.Errorf("Expected 'x z', got %q", val)
		}
		RemoveClass(div, "x")
		RemoveClass(div, "z")
		if _, ok := GetAttr(div, "class"); ok {
			t.Error("Expected class attribute removed when empty")
		}
	})

	t.Run("Attributes", func(t *testing.T) {
		SetAttr(div, "data-k", "v1")
		SetAttr(div, "data-k", "v2")
		if got, _ := GetAttr(div, "data-k"); got != "v2" {
			t.Errorf("Expected 'v2', got %q", got)
		}
		RemoveAttr(div, "data-k")
		if _, ok := GetAttr(div, "data-k"); ok {
			t.Error("Expected attribute removed")
		}
	})
}

func TestCloneAndReorder(t *testing.T) {
	doc := mustParse(t, `<html><body><ul><li id="a">A</li><li id="b">B</li><li id="c">C</li></ul></body></html>`)
	a := findByAttr(doc, "id", "a")
	b := findByAttr(doc, "id", "b")
	c := findByAttr(doc, "id", "c")

	t.Run("CloneTree is deep and detached", func(t *testing.T) {
		clone := CloneTree(a)
		if clone.Parent != nil {
			t.Error("Expected detached clone")
		}
		SetText(clone, "changed")
		if Text(a) != "A" {
			t.Error("Expected original to be unaffected by clone mutation")
		}
	})

	t.Run("SwapSiblings", func(t *testing.T) {
		SwapSiblings(a, b)
		if order := siblingOrder(a.Parent); order != "b,a,c" {
			t.Errorf("Expected b,a,c got %s", order)
		}
		SwapSiblings(a, b)
		if order := siblingOrder(a.Parent); order != "a,b,c" {
			t.Errorf("Expected a,b,c got %s", order)
		}
	})

	t.Run("InsertAfter", func(t *testing.T) {
		Detach(a)
		InsertAfter(a, c)
		if order := siblingOrder(b.Parent); order != "b,c,a" {
			t.Errorf("Expected b,c,a got %s", order)
		}
	})
}

func findByAttr(doc *Document, name, value string) (found *html.Node) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if v, ok := GetAttr(n, name); ok && v == value {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc.Root())
	return found
}

func siblingOrder(parent *html.Node) string {
	var ids []string
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if id, ok := GetAttr(c, "id"); ok {
			ids = append(ids, id)
		}
	}
	return strings.Join(ids, ",")
}
