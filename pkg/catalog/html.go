package catalog

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"golang.org/x/net/html"
)

func htmlModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "html",
		Members: starlark.StringDict{
			"parse": NewBuiltin(Signature{
				Name:   "html.parse",
				Desc:   "Parse an HTML page into a selection.",
				Params: []Param{{Name: "data", Type: "string", Desc: "page source"}},
			}, func(_ *starlark.Thread, kw map[string]starlark.Value) (starlark.Value, error) {
				doc, err := goquery.NewDocumentFromReader(strings.NewReader(str(kw["data"])))
				if err != nil {
					return nil, err
				}
				return &Selection{sel: doc.Selection}, nil
			}),
			"links": NewBuiltin(Signature{
				Name:   "html.links",
				Desc:   "List the href of every anchor, in document order.",
				Params: []Param{{Name: "data", Type: "string", Desc: "page source"}},
			}, func(_ *starlark.Thread, kw map[string]starlark.Value) (starlark.Value, error) {
				root, err := html.Parse(strings.NewReader(str(kw["data"])))
				if err != nil {
					return nil, err
				}
				return fromGo(hrefs(root)), nil
			}),
		},
	}
}

func hrefs(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" && a.Val != "" {
					out = append(out, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// Selection exposes a goquery selection to recipes.
type Selection struct {
	sel *goquery.Selection
}

var _ starlark.HasAttrs = (*Selection)(nil)

func (s *Selection) String() string        { return fmt.Sprintf("<selection of %d>", s.sel.Length()) }
func (s *Selection) Type() string          { return "html.selection" }
func (s *Selection) Freeze()               {}
func (s *Selection) Truth() starlark.Bool  { return s.sel.Length() > 0 }
func (s *Selection) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", s.Type()) }
func (s *Selection) Len() int              { return s.sel.Length() }

func (s *Selection) AttrNames() []string {
	return []string{"attr", "each", "find", "text"}
}

func (s *Selection) Attr(name string) (starlark.Value, error) {
	switch name {
	case "text":
		return starlark.NewBuiltin("text", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.String(strings.TrimSpace(s.sel.Text())), nil
		}), nil
	case "attr":
		return starlark.NewBuiltin("attr", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &key); err != nil {
				return nil, err
			}
			v, ok := s.sel.Attr(key)
			if !ok {
				return starlark.None, nil
			}
			return starlark.String(v), nil
		}), nil
	case "find":
		return starlark.NewBuiltin("find", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var selector string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "selector", &selector); err != nil {
				return nil, err
			}
			return &Selection{sel: s.sel.Find(selector)}, nil
		}), nil
	case "each":
		return starlark.NewBuiltin("each", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			items := make([]starlark.Value, 0, s.sel.Length())
			s.sel.Each(func(_ int, one *goquery.Selection) {
				items = append(items, &Selection{sel: one})
			})
			return starlark.NewList(items), nil
		}), nil
	}
	return nil, nil
}
