// Package pageparser extracts a page's title, outbound links, and forms
// from an HTML response body using a forgiving tokenizer, so malformed
// markup degrades to partial results rather than a parse failure.
package pageparser

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/vulnscan/scanengine/pkg/model"
)

// Parsed is the output of Parse: everything the Crawler needs to build a
// model.Page, minus the URL and depth (which the caller already knows).
type Parsed struct {
	Title string
	Links []string
	Forms []model.Form
}

// Parse extracts title, links, and forms from body, resolving relative
// references against base. Non-HTML content types should not be passed in
// by the caller; Parse itself has no way to tell and will simply find no
// recognizable tags, yielding an empty Parsed.
func Parse(body []byte, base *url.URL) Parsed {
	z := html.NewTokenizer(strings.NewReader(string(body)))

	var out Parsed
	seenLinks := make(map[string]bool)
	var curForm *model.Form
	var titleCaptured bool
	var inTitle bool

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			switch t.DataAtom.String() {
			case "title":
				if !titleCaptured {
					inTitle = true
				}
			case "a":
				if href := attr(t, "href"); href != "" {
					if resolved := resolve(base, href); resolved != "" && !seenLinks[resolved] {
						seenLinks[resolved] = true
						out.Links = append(out.Links, resolved)
					}
				}
			case "form":
				f := newForm(t, base)
				curForm = &f
			case "input", "select", "textarea":
				if curForm != nil {
					if in, ok := formInput(t); ok {
						curForm.Inputs = append(curForm.Inputs, in)
					}
				}
			}
			if tt == html.SelfClosingTagToken && t.DataAtom.String() == "form" {
				out.Forms = append(out.Forms, *curForm)
				curForm = nil
			}
		case html.EndTagToken:
			t := z.Token()
			switch t.DataAtom.String() {
			case "title":
				inTitle = false
				titleCaptured = true
			case "form":
				if curForm != nil {
					out.Forms = append(out.Forms, *curForm)
					curForm = nil
				}
			}
		case html.TextToken:
			if inTitle {
				out.Title += z.Token().Data
			}
		}
	}

	if curForm != nil {
		out.Forms = append(out.Forms, *curForm)
	}
	out.Title = strings.TrimSpace(out.Title)
	return out
}

func attr(t html.Token, key string) string {
	for _, a := range t.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "mailto:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	resolved.Fragment = ""
	return resolved.String()
}

func newForm(t html.Token, base *url.URL) model.Form {
	method := strings.ToUpper(strings.TrimSpace(attr(t, "method")))
	if method != "GET" && method != "POST" {
		method = "GET"
	}
	action := attr(t, "action")
	resolvedAction := base.String()
	if action != "" {
		if r := resolve(base, action); r != "" {
			resolvedAction = r
		}
	}
	return model.Form{Action: resolvedAction, Method: method}
}

func formInput(t html.Token) (model.FormInput, bool) {
	name := attr(t, "name")
	if name == "" {
		return model.FormInput{}, false
	}
	typ := strings.ToLower(strings.TrimSpace(attr(t, "type")))
	if typ == "" {
		typ = "text"
	}
	if t.DataAtom.String() == "select" {
		typ = "select"
	} else if t.DataAtom.String() == "textarea" {
		typ = "textarea"
	}
	_, required := findAttr(t, "required")
	return model.FormInput{
		Name:     name,
		Type:     typ,
		Required: required,
		Value:    attr(t, "value"),
	}, true
}

func findAttr(t html.Token, key string) (string, bool) {
	for _, a := range t.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
