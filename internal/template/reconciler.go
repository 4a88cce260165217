// Package template manages ordered collections of repeated page fragments:
// adding, deleting and reordering template instances, and persisting each
// template's explicit order list as its own content key.
package template

import (
	"crypto/rand"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/inplacehq/inplace/internal/dom"
	"github.com/inplacehq/inplace/internal/editor"
	"github.com/inplacehq/inplace/internal/model"
)

const instanceIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Direction of a single-position instance move.
type Direction int

const (
	Up Direction = iota
	Down
)

// Reconciler owns the per-template ordered instance lists and is the sole
// writer of each template's order key.
type Reconciler struct {
	state   *editor.State
	doc     *dom.Document
	content *editor.Manager
	log     zerolog.Logger

	idLength int

	orders  map[model.TemplateID][]model.InstanceID
	roots   map[model.TemplateID]map[model.InstanceID]dom.Handle
	changed map[model.TemplateID]struct{}
	removed map[model.TemplateID]map[model.InstanceID]removedInstance
}

// removedInstance keeps enough of a deleted instance to bring it back on
// revert: its detached subtree plus the baseline content and saved flag of
// every key that had a baseline when it was deleted.
type removedInstance struct {
	root    *html.Node
	content map[model.Key]string
	saved   map[model.Key]struct{}
}

func NewReconciler(content *editor.Manager, doc *dom.Document, idLength int, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		state:    content.State(),
		doc:      doc,
		content:  content,
		log:      log,
		idLength: idLength,
		orders:   make(map[model.TemplateID][]model.InstanceID),
		roots:    make(map[model.TemplateID]map[model.InstanceID]dom.Handle),
		changed:  make(map[model.TemplateID]struct{}),
		removed:  make(map[model.TemplateID]map[model.InstanceID]removedInstance),
	}
}

// Discover walks the document for instance roots (elements carrying the
// template and instance attributes but no field attribute) and builds each
// template's order list implicitly from document order. The resulting order
// keys start out clean: an order derived from the page is the baseline.
func (r *Reconciler) Discover() {
	attrs := r.doc.AttrNames()
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tmplAttr, _ := dom.GetAttr(n, attrs.Template)
			instAttr, _ := dom.GetAttr(n, attrs.Instance)
			fieldAttr, _ := dom.GetAttr(n, attrs.Field)
			if tmplAttr != "" && instAttr != "" && fieldAttr == "" {
				r.track(model.TemplateID(tmplAttr), model.InstanceID(instAttr), n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(r.doc.Root())

	for tmpl := range r.orders {
		key := model.OrderKey(tmpl)
		content := model.OrderEnvelope(r.orders[tmpl]).MustEncode()
		r.state.AddTemplateKey(tmpl, key)
		r.state.SetCurrent(key, content)
		r.state.SetOriginal(key, content)
	}
}

func (r *Reconciler) track(tmpl model.TemplateID, inst model.InstanceID, n *html.Node) {
	if r.roots[tmpl] == nil {
		r.roots[tmpl] = make(map[model.InstanceID]dom.Handle)
	}
	if _, ok := r.roots[tmpl][inst]; ok {
		return
	}
	r.roots[tmpl][inst] = r.doc.Register(n)
	r.orders[tmpl] = append(r.orders[tmpl], inst)
}

// Instances returns the current ordered instance ids for a template.
func (r *Reconciler) Instances(tmpl model.TemplateID) []model.InstanceID {
	return append([]model.InstanceID(nil), r.orders[tmpl]...)
}

// ChangedTemplates lists templates whose structure changed since the last
// successful save; their never-saved keys must be force-included in it.
func (r *Reconciler) ChangedTemplates() []model.TemplateID {
	var ids []model.TemplateID
	for t := range r.changed {
		ids = append(ids, t)
	}
	return ids
}

// ClearChanged resets the structural-change tracking after a save. Kept
// deleted-instance snapshots are dropped with it: once the save lands, the
// baseline no longer contains them.
func (r *Reconciler) ClearChanged() {
	r.changed = make(map[model.TemplateID]struct{})
	r.removed = make(map[model.TemplateID]map[model.InstanceID]removedInstance)
}

// AddInstance clones the shape of an existing instance, assigns it a fresh
// collision-checked id, grafts it into the page after the given instance (or
// at the end) and registers its fields with empty default content. The new
// fields are dirty from birth, so the next save picks them up.
func (r *Reconciler) AddInstance(tmpl model.TemplateID, after model.InstanceID) (model.InstanceID, error) {
	order := r.orders[tmpl]
	if len(order) == 0 {
		return "", fmt.Errorf("unknown template %s", tmpl)
	}

	proto := order[0]
	pos := len(order)
	if after != "" {
		for i, inst := range order {
			if inst == after {
				proto = inst
				pos = i + 1
				break
			}
		}
	}

	protoNode := r.doc.Node(r.roots[tmpl][proto])
	if protoNode == nil {
		return "", fmt.Errorf("template %s has no live instance to clone", tmpl)
	}

	newID, err := r.newInstanceID(tmpl)
	if err != nil {
		return "", err
	}

	clone := dom.CloneTree(protoNode)
	r.rewriteInstanceIDs(clone, newID)

	// Graft after the instance preceding the insert position.
	anchor := r.doc.Node(r.roots[tmpl][order[pos-1]])
	dom.InsertAfter(clone, anchor)

	r.roots[tmpl][newID] = r.doc.Register(clone)
	r.orders[tmpl] = append(order[:pos:pos], append([]model.InstanceID{newID}, order[pos:]...)...)

	r.registerCloneFields(clone)
	r.writeOrder(tmpl)
	r.changed[tmpl] = struct{}{}

	r.log.Debug().Str("template", string(tmpl)).Str("instance", string(newID)).Msg("Instance added")
	return newID, nil
}

// DeleteInstance removes an instance, its DOM nodes and its keys. Deleting
// the last remaining instance is refused: the template's shape would be
// unrecoverable.
func (r *Reconciler) DeleteInstance(tmpl model.TemplateID, inst model.InstanceID) bool {
	order := r.orders[tmpl]
	if len(order) <= 1 {
		r.log.Debug().Str("template", string(tmpl)).Msg("Refusing to delete last instance")
		return false
	}

	pos := -1
	for i, id := range order {
		if id == inst {
			pos = i
			break
		}
	}
	if pos == -1 {
		return false
	}

	snap := removedInstance{
		content: make(map[model.Key]string),
		saved:   make(map[model.Key]struct{}),
	}

	for _, key := range r.state.TemplateKeys(tmpl) {
		_, keyInst, _, ok := model.ParseTemplateKey(key)
		if !ok || keyInst != inst {
			continue
		}
		if original, ok := r.state.Original(key); ok {
			snap.content[key] = original
			if r.state.IsSaved(key) {
				snap.saved[key] = struct{}{}
			}
		}
		for _, el := range r.state.Elements(key) {
			r.content.UnregisterElement(key, el.Handle)
		}
		r.state.DeleteContent(key)
		r.state.RemoveTemplateKey(tmpl, key)
		r.state.MarkDeleted(key)
	}

	if h, ok := r.roots[tmpl][inst]; ok {
		if node := r.doc.Node(h); node != nil {
			dom.Detach(node)
			snap.root = node
		}
		r.doc.Release(h)
		delete(r.roots[tmpl], inst)
	}

	// Only an instance the baseline knows about can come back on revert.
	if snap.root != nil && len(snap.content) > 0 {
		if r.removed[tmpl] == nil {
			r.removed[tmpl] = make(map[model.InstanceID]removedInstance)
		}
		r.removed[tmpl][inst] = snap
	}

	r.orders[tmpl] = append(order[:pos], order[pos+1:]...)
	r.writeOrder(tmpl)
	r.changed[tmpl] = struct{}{}
	return true
}

// MoveInstance swaps an instance with its neighbor in the given direction,
// exactly one position. Moves past a boundary are refused silently.
func (r *Reconciler) MoveInstance(tmpl model.TemplateID, inst model.InstanceID, dir Direction) bool {
	order := r.orders[tmpl]
	pos := -1
	for i, id := range order {
		if id == inst {
			pos = i
			break
		}
	}
	if pos == -1 {
		return false
	}

	other := pos - 1
	if dir == Down {
		other = pos + 1
	}
	if other < 0 || other >= len(order) {
		return false
	}

	a := r.doc.Node(r.roots[tmpl][order[pos]])
	b := r.doc.Node(r.roots[tmpl][order[other]])
	if a == nil || b == nil {
		return false
	}
	dom.SwapSiblings(a, b)

	order[pos], order[other] = order[other], order[pos]
	r.writeOrder(tmpl)
	r.changed[tmpl] = struct{}{}
	return true
}

// Revert rolls every template back to its baseline structure: instances
// added since are discarded, deleted ones are reattached with their baseline
// content, and the page order is rebuilt from the baseline order list.
// Templates whose order key has no baseline are left alone.
func (r *Reconciler) Revert() {
	for tmpl := range r.orders {
		r.revertTemplate(tmpl)
	}
	r.changed = make(map[model.TemplateID]struct{})
	r.removed = make(map[model.TemplateID]map[model.InstanceID]removedInstance)
}

func (r *Reconciler) revertTemplate(tmpl model.TemplateID) {
	baseline, ok := r.baselineOrder(tmpl)
	if !ok {
		return
	}

	inBaseline := make(map[model.InstanceID]struct{}, len(baseline))
	for _, inst := range baseline {
		inBaseline[inst] = struct{}{}
	}

	// Restore before discarding, so the template still has a live sibling
	// to graft the returning instances onto.
	for _, inst := range baseline {
		if _, live := r.roots[tmpl][inst]; !live {
			r.restoreInstance(tmpl, inst)
		}
	}

	var extras []model.InstanceID
	for inst := range r.roots[tmpl] {
		if _, ok := inBaseline[inst]; !ok {
			extras = append(extras, inst)
		}
	}
	for _, inst := range extras {
		r.discardInstance(tmpl, inst)
	}

	r.orders[tmpl] = append([]model.InstanceID(nil), baseline...)
	r.reorderDOM(tmpl)
	r.writeOrder(tmpl)
	r.log.Debug().Str("template", string(tmpl)).Msg("Template structure reverted")
}

func (r *Reconciler) baselineOrder(tmpl model.TemplateID) ([]model.InstanceID, bool) {
	original, ok := r.state.Original(model.OrderKey(tmpl))
	if !ok {
		return nil, false
	}
	env, err := model.DecodeEnvelope(original)
	if err != nil {
		return nil, false
	}
	return env.Order, true
}

// restoreInstance grafts a deleted instance's subtree back into the page and
// re-registers its fields with their baseline content.
func (r *Reconciler) restoreInstance(tmpl model.TemplateID, inst model.InstanceID) {
	snap, ok := r.removed[tmpl][inst]
	if !ok || snap.root == nil {
		return
	}

	anchor := r.liveRoot(tmpl)
	if anchor == nil {
		return
	}
	dom.InsertAfter(snap.root, anchor)
	r.track(tmpl, inst, snap.root)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if el, ok := r.doc.Classify(n); ok && el.Template == tmpl && el.Instance == inst {
				el.Handle = r.doc.Register(n)
				e := editor.Element{Handle: el.Handle, Type: el.Type, Template: el.Template, Instance: el.Instance}
				r.state.AddElement(el.Key, e)
				if content, ok := snap.content[el.Key]; ok {
					r.state.SetCurrent(el.Key, content)
					r.state.SetOriginal(el.Key, content)
					r.content.ApplyElementContent(el.Key, e, content)
				}
				if _, ok := snap.saved[el.Key]; ok {
					r.state.MarkSaved(el.Key)
				}
				r.state.ClearDeleted(el.Key)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(snap.root)

	delete(r.removed[tmpl], inst)
}

// discardInstance tears down an instance absent from the baseline. Unlike
// DeleteInstance it leaves no deletion markers behind: the server never saw
// these keys.
func (r *Reconciler) discardInstance(tmpl model.TemplateID, inst model.InstanceID) {
	for _, key := range r.state.TemplateKeys(tmpl) {
		_, keyInst, _, ok := model.ParseTemplateKey(key)
		if !ok || keyInst != inst {
			continue
		}
		for _, el := range r.state.Elements(key) {
			r.content.UnregisterElement(key, el.Handle)
		}
		r.state.DeleteContent(key)
		r.state.RemoveTemplateKey(tmpl, key)
		r.state.ClearDeleted(key)
	}

	if h, ok := r.roots[tmpl][inst]; ok {
		if node := r.doc.Node(h); node != nil {
			dom.Detach(node)
		}
		r.doc.Release(h)
		delete(r.roots[tmpl], inst)
	}
}

func (r *Reconciler) liveRoot(tmpl model.TemplateID) *html.Node {
	for _, h := range r.roots[tmpl] {
		if n := r.doc.Node(h); n != nil && n.Parent != nil {
			return n
		}
	}
	return nil
}

// reorderDOM re-chains the instance subtrees as siblings in order-list
// order, anchored on the first instance's position in the page.
func (r *Reconciler) reorderDOM(tmpl model.TemplateID) {
	order := r.orders[tmpl]
	if len(order) < 2 {
		return
	}
	anchor := r.doc.Node(r.roots[tmpl][order[0]])
	if anchor == nil || anchor.Parent == nil {
		return
	}
	for _, inst := range order[1:] {
		n := r.doc.Node(r.roots[tmpl][inst])
		if n == nil {
			continue
		}
		dom.Detach(n)
		dom.InsertAfter(n, anchor)
		anchor = n
	}
}

func (r *Reconciler) writeOrder(tmpl model.TemplateID) {
	key := model.OrderKey(tmpl)
	r.state.AddTemplateKey(tmpl, key)
	r.state.SetCurrent(key, model.OrderEnvelope(r.orders[tmpl]).MustEncode())
}

// rewriteInstanceIDs stamps the new instance id on the clone root and every
// descendant that carries the instance attribute.
func (r *Reconciler) rewriteInstanceIDs(n *html.Node, id model.InstanceID) {
	attrs := r.doc.AttrNames()
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode {
			if _, ok := dom.GetAttr(c, attrs.Instance); ok {
				dom.SetAttr(c, attrs.Instance, string(id))
			}
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
}

// registerCloneFields registers the clone's field elements and seeds each
// key with empty default content against an absent baseline.
func (r *Reconciler) registerCloneFields(clone *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if el, ok := r.doc.Classify(n); ok && el.Template != "" {
				el.Handle = r.doc.Register(n)
				e := editor.Element{Handle: el.Handle, Type: el.Type, Template: el.Template, Instance: el.Instance}
				r.state.AddElement(el.Key, e)
				r.state.SetCurrent(el.Key, defaultEnvelope(el.Type))
				r.content.ApplyElementContent(el.Key, e, defaultEnvelope(el.Type))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(clone)
}

func defaultEnvelope(t model.ContentType) string {
	switch t {
	case model.ContentHTML:
		return model.HTMLEnvelope("", nil).MustEncode()
	case model.ContentImage:
		return model.ImageEnvelope("", nil).MustEncode()
	case model.ContentLink:
		return model.LinkEnvelope("", "", "", nil).MustEncode()
	default:
		return model.TextEnvelope("", nil).MustEncode()
	}
}

// newInstanceID draws a fixed-length lowercase-alphanumeric id, retrying on
// the unlikely collision with an existing instance of the template.
func (r *Reconciler) newInstanceID(tmpl model.TemplateID) (model.InstanceID, error) {
	for {
		buf := make([]byte, r.idLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("error generating instance id: %w", err)
		}
		for i, b := range buf {
			buf[i] = instanceIDAlphabet[int(b)%len(instanceIDAlphabet)]
		}
		id := model.InstanceID(buf)

		collision := false
		for _, existing := range r.orders[tmpl] {
			if existing == id {
				collision = true
				break
			}
		}
		if !collision {
			return id, nil
		}
	}
}
