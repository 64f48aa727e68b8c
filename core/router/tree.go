package router

// Radix tree based on Armon Dadgar's go-radix (MIT licensed), reshaped
// into an HTTP routing tree with {param} and trailing * segments.

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/dmitrymomot/fanout/core/handler"
)

type methodTyp uint

const (
	mCONNECT methodTyp = 1 << iota
	mDELETE
	mGET
	mHEAD
	mOPTIONS
	mPATCH
	mPOST
	mPUT
	mTRACE
)

const mALL = mCONNECT | mDELETE | mGET | mHEAD | mOPTIONS | mPATCH | mPOST | mPUT | mTRACE

var methodMap = map[string]methodTyp{
	http.MethodConnect: mCONNECT,
	http.MethodDelete:  mDELETE,
	http.MethodGet:     mGET,
	http.MethodHead:    mHEAD,
	http.MethodOptions: mOPTIONS,
	http.MethodPatch:   mPATCH,
	http.MethodPost:    mPOST,
	http.MethodPut:     mPUT,
	http.MethodTrace:   mTRACE,
}

func methodName(mt methodTyp) string {
	for name, t := range methodMap {
		if t == mt {
			return name
		}
	}
	return ""
}

type nodeTyp uint8

const (
	ntStatic   nodeTyp = iota // /ws/list
	ntParam                   // /ws/{channel}
	ntCatchAll                // /assets/*
)

// params holds the values matched by param and catch-all segments, in
// pattern order. Keys are filled in from the matched endpoint.
type params struct {
	keys   []string
	values []string
}

type node[C handler.Context] struct {
	endpoints endpoints[C]

	// prefix is the static text of the edge; empty for param nodes.
	prefix string

	// children grouped by node type, each group sorted by label.
	children [ntCatchAll + 1]nodes[C]

	// tail is the byte that ends a param segment.
	tail  byte
	typ   nodeTyp
	label byte
}

type endpoints[C handler.Context] map[methodTyp]*endpoint[C]

type endpoint[C handler.Context] struct {
	handler   handler.HandlerFunc[C]
	pattern   string
	paramKeys []string
}

func (s endpoints[C]) value(method methodTyp) *endpoint[C] {
	ep, ok := s[method]
	if !ok {
		ep = &endpoint[C]{}
		s[method] = ep
	}
	return ep
}

func (n *node[C]) insertRoute(method methodTyp, pattern string, h handler.HandlerFunc[C]) *node[C] {
	var parent *node[C]
	search := pattern

	for {
		if len(search) == 0 {
			n.setEndpoint(method, h, pattern)
			return n
		}

		label := search[0]
		var segTail byte
		var segEndIdx int
		var segTyp nodeTyp
		if label == '{' || label == '*' {
			segTyp, _, segTail, _, segEndIdx = patNextSegment(search)
		}

		parent = n
		n = n.getEdge(segTyp, label, segTail)

		if n == nil {
			child := &node[C]{label: label, tail: segTail, prefix: search}
			leaf := parent.addChild(child, search)
			leaf.setEndpoint(method, h, pattern)
			return leaf
		}

		if n.typ > ntStatic {
			// The param segment is already on the tree.
			search = search[segEndIdx:]
			continue
		}

		common := longestPrefix(search, n.prefix)
		if common == len(n.prefix) {
			search = search[common:]
			continue
		}

		// Split n at the shared prefix.
		split := &node[C]{typ: ntStatic, prefix: search[:common]}
		parent.replaceChild(search[0], segTail, split)

		n.label = n.prefix[common]
		n.prefix = n.prefix[common:]
		split.addChild(n, n.prefix)

		search = search[common:]
		if len(search) == 0 {
			split.setEndpoint(method, h, pattern)
			return split
		}

		sub := &node[C]{typ: ntStatic, label: search[0], prefix: search}
		leaf := split.addChild(sub, search)
		leaf.setEndpoint(method, h, pattern)
		return leaf
	}
}

// addChild attaches child under n keyed by prefix and returns the node that
// should hold the endpoint.
func (n *node[C]) addChild(child *node[C], prefix string) *node[C] {
	search := prefix
	leaf := child

	segTyp, _, segTail, segStartIdx, segEndIdx := patNextSegment(search)

	if segTyp != ntStatic {
		switch {
		case segStartIdx == 0:
			// The prefix starts with the wildcard segment.
			child.typ = segTyp
			child.tail = segTail
			child.prefix = ""

			rest := segEndIdx
			if segTyp == ntCatchAll {
				rest = len(search)
			}
			if rest != len(search) {
				search = search[rest:]
				next := &node[C]{typ: ntStatic, label: search[0], prefix: search}
				leaf = child.addChild(next, search)
			}

		default:
			// Static text first, then the wildcard edge.
			child.typ = ntStatic
			child.prefix = search[:segStartIdx]

			search = search[segStartIdx:]
			next := &node[C]{typ: segTyp, label: search[0], tail: segTail}
			leaf = child.addChild(next, search)
		}
	}

	n.children[child.typ] = append(n.children[child.typ], child)
	n.children[child.typ].sort()
	return leaf
}

func (n *node[C]) replaceChild(label, tail byte, child *node[C]) {
	group := n.children[child.typ]
	for i := range group {
		if group[i].label == label && group[i].tail == tail {
			group[i] = child
			group[i].label = label
			group[i].tail = tail
			return
		}
	}
	panic(ErrMissingChild)
}

func (n *node[C]) getEdge(typ nodeTyp, label, tail byte) *node[C] {
	for _, child := range n.children[typ] {
		if child.label == label && child.tail == tail {
			return child
		}
	}
	return nil
}

func (n *node[C]) setEndpoint(method methodTyp, h handler.HandlerFunc[C], pattern string) {
	if n.endpoints == nil {
		n.endpoints = make(endpoints[C])
	}
	keys := patParamKeys(pattern)

	set := func(mt methodTyp) {
		ep := n.endpoints.value(mt)
		ep.handler = h
		ep.pattern = pattern
		ep.paramKeys = keys
	}

	for _, mt := range methodMap {
		if method&mt == mt {
			set(mt)
		}
	}
}

// findRoute returns the endpoints of the node matching path, the handler
// for method if there is one, and the matched parameters. A non-nil
// endpoints map with a nil handler means the path exists under another
// method.
func (n *node[C]) findRoute(method methodTyp, path string) (endpoints[C], handler.HandlerFunc[C], params) {
	var ps params

	found := n.findRouteRecursive(method, path, &ps)
	if found == nil {
		return nil, nil, ps
	}
	if ep := found.endpoints[method]; ep != nil && ep.handler != nil {
		return found.endpoints, ep.handler, ps
	}
	return found.endpoints, nil, ps
}

func (n *node[C]) findRouteRecursive(method methodTyp, path string, ps *params) *node[C] {
	search := path

	for t, group := range n.children {
		typ := nodeTyp(t)
		if len(group) == 0 {
			continue
		}

		var xn *node[C]
		xsearch := search

		var label byte
		if search != "" {
			label = search[0]
		}

		switch typ {
		case ntStatic:
			xn = group.findEdge(label)
			if xn == nil || !strings.HasPrefix(xsearch, xn.prefix) {
				continue
			}
			xsearch = xsearch[len(xn.prefix):]

		case ntParam:
			// Params never match an empty segment.
			if xsearch == "" {
				continue
			}

			for _, candidate := range group {
				xn = candidate

				end := strings.IndexByte(xsearch, xn.tail)
				if end < 0 {
					if xn.tail != '/' {
						continue
					}
					end = len(xsearch)
				}
				if strings.IndexByte(xsearch[:end], '/') != -1 {
					continue
				}

				mark := len(ps.values)
				ps.values = append(ps.values, xsearch[:end])
				xsearch = xsearch[end:]

				if xsearch == "" && xn.isLeaf() {
					if ep := xn.endpoints[method]; ep != nil && ep.handler != nil {
						ps.keys = append(ps.keys, ep.paramKeys...)
					}
					return xn
				}

				if found := xn.findRouteRecursive(method, xsearch, ps); found != nil {
					return found
				}

				ps.values = ps.values[:mark]
				xsearch = search
			}

			ps.values = append(ps.values, "")

		default:
			ps.values = append(ps.values, search)
			xn = group[0]
			xsearch = ""
		}

		if xn == nil {
			continue
		}

		if xsearch == "" && xn.isLeaf() {
			if ep := xn.endpoints[method]; ep != nil && ep.handler != nil {
				ps.keys = append(ps.keys, ep.paramKeys...)
			}
			return xn
		}

		if found := xn.findRouteRecursive(method, xsearch, ps); found != nil {
			return found
		}

		if xn.typ > ntStatic && len(ps.values) > 0 {
			ps.values = ps.values[:len(ps.values)-1]
		}
	}

	return nil
}

func (n *node[C]) isLeaf() bool {
	return n.endpoints != nil
}

func (n *node[C]) routes() []Route {
	var out []Route
	n.walk(func(eps endpoints[C]) {
		for mt, ep := range eps {
			if ep.pattern == "" {
				continue
			}
			if name := methodName(mt); name != "" {
				out = append(out, Route{Method: name, Pattern: ep.pattern})
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func (n *node[C]) walk(fn func(eps endpoints[C])) {
	if n.endpoints != nil {
		fn(n.endpoints)
	}
	for _, group := range n.children {
		for _, child := range group {
			child.walk(fn)
		}
	}
}

// patNextSegment describes the next wildcard segment of pattern: its type,
// param key, tail byte and start and end index. A pattern without
// wildcards is one static segment.
func patNextSegment(pattern string) (nodeTyp, string, byte, int, int) {
	ps := strings.IndexByte(pattern, '{')
	ws := strings.IndexByte(pattern, '*')

	if ps < 0 && ws < 0 {
		return ntStatic, "", 0, 0, len(pattern)
	}
	if ps >= 0 && ws >= 0 && ws < ps {
		panic(ErrWildcardPosition)
	}

	if ps >= 0 {
		pe := strings.IndexByte(pattern[ps:], '}')
		if pe <= 1 {
			panic(ErrParamDelimiter)
		}
		pe += ps

		key := pattern[ps+1 : pe]
		if strings.ContainsAny(key, "{:") {
			panic(fmt.Errorf("%w: '%s'", ErrInvalidPattern, key))
		}
		pe++

		var tail byte = '/'
		if pe < len(pattern) {
			tail = pattern[pe]
		}
		return ntParam, key, tail, ps, pe
	}

	if ws < len(pattern)-1 {
		panic(ErrWildcardPosition)
	}
	return ntCatchAll, "*", 0, ws, len(pattern)
}

func patParamKeys(pattern string) []string {
	var keys []string
	for pat := pattern; ; {
		typ, key, _, _, end := patNextSegment(pat)
		if typ == ntStatic {
			return keys
		}
		for _, k := range keys {
			if k == key {
				panic(fmt.Errorf("%w: '%s' has duplicate key '%s'", ErrDuplicateParam, pattern, key))
			}
		}
		keys = append(keys, key)
		pat = pat[end:]
	}
}

func longestPrefix(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

type nodes[C handler.Context] []*node[C]

// sort orders nodes by label and moves a param node ending at '/' last, so
// more specific tails are tried first.
func (ns nodes[C]) sort() {
	sort.Slice(ns, func(i, j int) bool { return ns[i].label < ns[j].label })
	for i := len(ns) - 1; i >= 0; i-- {
		if ns[i].typ > ntStatic && ns[i].tail == '/' {
			ns[i], ns[len(ns)-1] = ns[len(ns)-1], ns[i]
			return
		}
	}
}

func (ns nodes[C]) findEdge(label byte) *node[C] {
	i := sort.Search(len(ns), func(i int) bool { return ns[i].label >= label })
	if i < len(ns) && ns[i].label == label {
		return ns[i]
	}
	return nil
}
