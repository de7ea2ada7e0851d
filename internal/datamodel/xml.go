package datamodel

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/clbanning/mxj/v2"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// NodeKind distinguishes element and text nodes.
type NodeKind int

const (
	ElementNode NodeKind = iota
	TextNode
)

// XMLAttr is an attribute of an element.
type XMLAttr struct {
	Name      string
	Prefix    string
	Namespace string
	Value     string
}

// XMLNode is a node of a simplified XML tree: comments and processing
// instructions are dropped and adjacent character data is merged.
type XMLNode struct {
	Kind      NodeKind
	Name      string
	Prefix    string
	Namespace string
	Attrs     []XMLAttr
	Children  []*XMLNode
	Text      string
}

// XMLDocument is a parsed, well-formed, namespace-checked XML document.
type XMLDocument struct {
	Root   *XMLNode
	Source string
}

// Map returns the document as a nested map, the form template engines index
// into. Attributes are keyed with a "-" prefix and element text that sits next
// to attributes is keyed "#text".
func (d *XMLDocument) Map() (mxj.Map, error) {
	m, err := mxj.NewMapXml([]byte(d.Source))
	if err != nil {
		return nil, fmt.Errorf("convert xml: %w", err)
	}
	return m, nil
}

// parseXML builds the simplified tree of src, rejecting documents that are not
// well-formed or use undeclared namespace prefixes.
func parseXML(src string) (*XMLDocument, error) {
	dec := xml.NewDecoder(strings.NewReader(src))

	var (
		root   *XMLNode
		stack  []*XMLNode
		scopes []map[string]string
	)

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, errors.New("The markup in the document following the root element must be well-formed.")
			}
			scope := declaredNamespaces(t.Attr)
			scopes = append(scopes, scope)

			qname := qualifiedName(t.Name)
			ns, ok := lookupNamespace(scopes, t.Name.Space)
			if !ok {
				return nil, fmt.Errorf("The prefix %q for element %q is not bound.", t.Name.Space, qname)
			}
			node := &XMLNode{Kind: ElementNode, Name: t.Name.Local, Prefix: t.Name.Space, Namespace: ns}

			for _, a := range t.Attr {
				if isNamespaceDecl(a.Name) {
					continue
				}
				attr := XMLAttr{Name: a.Name.Local, Prefix: a.Name.Space, Value: a.Value}
				if a.Name.Space != "" {
					ans, ok := lookupNamespace(scopes, a.Name.Space)
					if !ok {
						return nil, fmt.Errorf("The prefix %q for attribute %q associated with an element type %q is not bound.",
							a.Name.Space, qualifiedName(a.Name), qname)
					}
					attr.Namespace = ans
				}
				node.Attrs = append(node.Attrs, attr)
			}

			if len(stack) == 0 {
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("Unexpected end tag %q.", qualifiedName(t.Name))
			}
			top := stack[len(stack)-1]
			if top.Name != t.Name.Local || top.Prefix != t.Name.Space {
				open := qualifiedName(xml.Name{Space: top.Prefix, Local: top.Name})
				return nil, fmt.Errorf("The element type %q must be terminated by the matching end-tag \"</%s>\".", open, open)
			}
			stack = stack[:len(stack)-1]
			scopes = scopes[:len(scopes)-1]

		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(string(t)) != "" {
					return nil, errors.New("Content is not allowed outside of the root element.")
				}
				continue
			}
			appendText(stack[len(stack)-1], string(t))
		}
	}

	if root == nil {
		return nil, errors.New("Premature end of file.")
	}
	if len(stack) > 0 {
		return nil, errors.New("XML document structures must start and end within the same entity.")
	}
	return &XMLDocument{Root: root, Source: src}, nil
}

func appendText(parent *XMLNode, text string) {
	if n := len(parent.Children); n > 0 && parent.Children[n-1].Kind == TextNode {
		parent.Children[n-1].Text += text
		return
	}
	parent.Children = append(parent.Children, &XMLNode{Kind: TextNode, Text: text})
}

func isNamespaceDecl(n xml.Name) bool {
	return n.Space == "xmlns" || (n.Space == "" && n.Local == "xmlns")
}

func declaredNamespaces(attrs []xml.Attr) map[string]string {
	var scope map[string]string
	for _, a := range attrs {
		if !isNamespaceDecl(a.Name) {
			continue
		}
		if scope == nil {
			scope = make(map[string]string)
		}
		if a.Name.Space == "xmlns" {
			scope[a.Name.Local] = a.Value
		} else {
			scope[""] = a.Value
		}
	}
	return scope
}

// lookupNamespace resolves prefix against the open scopes, innermost first. The
// empty prefix always resolves, to the default namespace if one is declared.
func lookupNamespace(scopes []map[string]string, prefix string) (string, bool) {
	if prefix == "xml" {
		return xmlNamespace, true
	}
	for i := len(scopes) - 1; i >= 0; i-- {
		if uri, ok := scopes[i][prefix]; ok {
			return uri, true
		}
	}
	return "", prefix == ""
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
