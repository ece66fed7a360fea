// SPDX-License-Identifier: GPL-3.0-or-later

package directory

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

// xmlValue mirrors the XML-RPC <value> element closely enough to decode
// every shape the master's own callbacks use (strings, ints, booleans,
// arrays, and arbitrary nesting), and to encode our replies back into
// the same shape. There is no XML-RPC server library anywhere in the
// retrieval pack, so this, like the rest of package directory's server
// half, is built directly on encoding/xml.
type xmlValue struct {
	XMLName xml.Name    `xml:"value"`
	Str     *string     `xml:"string"`
	Int     *string     `xml:"int"`
	I4      *string     `xml:"i4"`
	Bool    *string     `xml:"boolean"`
	Double  *string     `xml:"double"`
	Array   *xmlArray   `xml:"array"`
	Raw     string      `xml:",chardata"`
}

type xmlArray struct {
	Values []xmlValue `xml:"data>value"`
}

// decodeValue converts a decoded xmlValue into a Go value: string,
// int, float64, bool, or []any.
func decodeValue(v xmlValue) (any, error) {
	switch {
	case v.Str != nil:
		return *v.Str, nil
	case v.Int != nil:
		n, err := strconv.Atoi(*v.Int)
		return n, err
	case v.I4 != nil:
		n, err := strconv.Atoi(*v.I4)
		return n, err
	case v.Bool != nil:
		return *v.Bool == "1" || *v.Bool == "true", nil
	case v.Double != nil:
		f, err := strconv.ParseFloat(*v.Double, 64)
		return f, err
	case v.Array != nil:
		out := make([]any, 0, len(v.Array.Values))
		for _, item := range v.Array.Values {
			dv, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, dv)
		}
		return out, nil
	default:
		// A bare <value>text</value> with no typed child is a string
		// per the XML-RPC specification.
		return v.Raw, nil
	}
}

// encodeValue renders a Go value as an XML-RPC <value> element.
func encodeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "<value><string></string></value>"
	case string:
		return "<value><string>" + xmlEscape(x) + "</string></value>"
	case bool:
		if x {
			return "<value><boolean>1</boolean></value>"
		}
		return "<value><boolean>0</boolean></value>"
	case int:
		return "<value><int>" + strconv.Itoa(x) + "</int></value>"
	case float64:
		return "<value><double>" + strconv.FormatFloat(x, 'g', -1, 64) + "</double></value>"
	case []string:
		var body string
		for _, item := range x {
			body += encodeValue(item)
		}
		return "<value><array><data>" + body + "</data></array></value>"
	case []any:
		var body string
		for _, item := range x {
			body += encodeValue(item)
		}
		return "<value><array><data>" + body + "</data></array></value>"
	default:
		return "<value><string>" + xmlEscape(fmt.Sprint(x)) + "</string></value>"
	}
}

func xmlEscape(s string) string {
	var buf []byte
	if err := xml.EscapeText(newBufWriter(&buf), []byte(s)); err != nil {
		return s
	}
	return string(buf)
}

// bufWriter adapts a []byte pointer to io.Writer for xml.EscapeText.
type bufWriter struct{ buf *[]byte }

func newBufWriter(buf *[]byte) *bufWriter { return &bufWriter{buf: buf} }

func (w *bufWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
