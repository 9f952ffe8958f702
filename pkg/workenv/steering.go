package workenv

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// xmlNode is a generic element tree. Marlin steering files are edited in
// place, so unknown elements and attributes must survive a round trip.
// Comments are not preserved.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []*xmlNode `xml:",any"`
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *xmlNode) setAttr(name, value string) {
	for i, a := range n.Attrs {
		if a.Name.Local == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

func (n *xmlNode) removeAttr(name string) {
	out := n.Attrs[:0]
	for _, a := range n.Attrs {
		if a.Name.Local != name {
			out = append(out, a)
		}
	}
	n.Attrs = out
}

func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.Children {
		if c.XMLName.Local == name {
			return c
		}
	}
	return nil
}

func (n *xmlNode) children(name string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.Children {
		if c.XMLName.Local == name {
			out = append(out, c)
		}
	}
	return out
}

// normalize drops the indentation whitespace between elements so that the
// tree can be re-indented on output, and folds namespaced attribute names
// (xmlns:xsi, xsi:noNamespaceSchemaLocation) back into their prefixed form.
func (n *xmlNode) normalize(prefixes map[string]string) {
	n.Text = strings.TrimSpace(n.Text)
	for _, a := range n.Attrs {
		if a.Name.Space == "xmlns" {
			prefixes[a.Value] = a.Name.Local
		}
	}
	for i, a := range n.Attrs {
		switch {
		case a.Name.Space == "":
		case a.Name.Space == "xmlns":
			n.Attrs[i].Name = xml.Name{Local: "xmlns:" + a.Name.Local}
		case prefixes[a.Name.Space] != "":
			n.Attrs[i].Name = xml.Name{Local: prefixes[a.Name.Space] + ":" + a.Name.Local}
		}
	}
	for _, c := range n.Children {
		c.normalize(prefixes)
	}
}

// steering is a parsed Marlin steering file:
//
//	<marlin>
//	  <execute> <processor name="..."/> ... </execute>
//	  <global> <parameter name="..." value="..."/> ... </global>
//	  <processor name="..." type="..."> <parameter .../> </processor>
//	</marlin>
type steering struct {
	root *xmlNode
}

func parseSteering(data []byte) (*steering, error) {
	var root xmlNode
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = asciiCharset
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("invalid steering XML: %w", err)
	}
	if root.XMLName.Local != "marlin" {
		return nil, fmt.Errorf("invalid steering file: root element is <%s>, want <marlin>", root.XMLName.Local)
	}
	if root.child("global") == nil {
		root.Children = append(root.Children, &xmlNode{XMLName: xml.Name{Local: "global"}})
	}
	root.normalize(map[string]string{})
	return &steering{root: &root}, nil
}

// asciiCharset accepts the ASCII-compatible encodings steering files declare.
func asciiCharset(label string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "us-ascii", "ascii":
		return r, nil
	}
	return nil, fmt.Errorf("unsupported steering file encoding %q", label)
}

// setParameter sets the parameter called name under parent, creating it
// when missing. Marlin reads a parameter either from its value attribute or
// from its text; asText selects the latter and the other form is removed.
func setParameter(parent *xmlNode, name, value string, asText bool) {
	var p *xmlNode
	for _, c := range parent.children("parameter") {
		if c.attr("name") == name {
			p = c
			break
		}
	}
	if p == nil {
		p = &xmlNode{XMLName: xml.Name{Local: "parameter"}}
		p.setAttr("name", name)
		parent.Children = append(parent.Children, p)
	}
	if asText {
		p.removeAttr("value")
		p.Text = value
		return
	}
	p.Text = ""
	p.setAttr("value", value)
}

func (s *steering) setGlobal(name, value string, asText bool) {
	setParameter(s.root.child("global"), name, value, asText)
}

// activeProcessor returns the first processor of the given type, which must
// also be listed in the execute section.
func (s *steering) activeProcessor(typ string) (*xmlNode, error) {
	var proc *xmlNode
	for _, p := range s.root.children("processor") {
		if p.attr("type") == typ {
			proc = p
			break
		}
	}
	if proc == nil {
		return nil, fmt.Errorf("processor %q not found in the steering file", typ)
	}

	name := proc.attr("name")
	if exec := s.root.child("execute"); exec != nil {
		for _, p := range exec.children("processor") {
			if p.attr("name") == name {
				return proc, nil
			}
		}
	}
	return nil, fmt.Errorf("processor %q (%s) is not activated in the execute section", name, typ)
}

func (s *steering) bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(s.root); err != nil {
		return nil, fmt.Errorf("encode steering: %w", err)
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}
