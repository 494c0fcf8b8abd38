package pageparser

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, s string) *url.URL {
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestParseTitleAndLinks(t *testing.T) {
	body := []byte(`<html><head><title> Hello World </title></head>
	<body><a href="/a">a</a><a href="/a">dup</a><a href="/b#frag">b</a></body></html>`)
	p := Parse(body, mustURL(t, "http://example.com/"))
	require.Equal(t, "Hello World", p.Title)
	require.Equal(t, []string{"http://example.com/a", "http://example.com/b"}, p.Links)
}

func TestParseFormWithInputs(t *testing.T) {
	body := []byte(`<form method="post" action="/save">
		<input type="password" name="pw">
		<input type="hidden" name="csrf_token" value="xyz">
		<input name="unnamed_skip_if_blank" type="text">
	</form>`)
	p := Parse(body, mustURL(t, "http://example.com/login"))
	require.Len(t, p.Forms, 1)
	f := p.Forms[0]
	require.Equal(t, "POST", f.Method)
	require.Equal(t, "http://example.com/save", f.Action)
	require.Len(t, f.Inputs, 3)
	require.Equal(t, "pw", f.Inputs[0].Name)
	require.Equal(t, "password", f.Inputs[0].Type)
}

func TestParseFormMissingActionDefaultsToPageURL(t *testing.T) {
	body := []byte(`<form method="get"><input name="q"></form>`)
	p := Parse(body, mustURL(t, "http://example.com/search"))
	require.Len(t, p.Forms, 1)
	require.Equal(t, "http://example.com/search", p.Forms[0].Action)
}

func TestParseUnknownMethodCoercedToGet(t *testing.T) {
	body := []byte(`<form method="put" action="/x"><input name="a"></form>`)
	p := Parse(body, mustURL(t, "http://example.com/"))
	require.Equal(t, "GET", p.Forms[0].Method)
}

func TestParseInputWithoutNameSkipped(t *testing.T) {
	body := []byte(`<form action="/x"><input type="text"><input name="kept"></form>`)
	p := Parse(body, mustURL(t, "http://example.com/"))
	require.Len(t, p.Forms[0].Inputs, 1)
	require.Equal(t, "kept", p.Forms[0].Inputs[0].Name)
}
