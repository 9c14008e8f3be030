package document

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"strings"
)

// xmlText is the field holding the text of an element which also has
// attributes or children.
const xmlText = "#text"

// xmlObject converts an XML document into the JSON object of its root
// element. Attributes and child elements become fields, repeated children
// become arrays and text only elements become strings.
func xmlObject(content []byte) (json.RawMessage, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		v, err := xmlElement(dec, start)
		if err != nil {
			return nil, err
		}
		obj, ok := v.(map[string]any)
		if !ok {
			obj = make(map[string]any)
			if s := v.(string); s != "" {
				obj[xmlText] = s
			}
		}
		return json.Marshal(obj)
	}
}

func xmlElement(dec *xml.Decoder, start xml.StartElement) (any, error) {
	fields := make(map[string]any)
	for _, attr := range start.Attr {
		if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
			continue
		}
		fields[attr.Name.Local] = attr.Value
	}
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			v, err := xmlElement(dec, t)
			if err != nil {
				return nil, err
			}
			name := t.Name.Local
			switch prev := fields[name].(type) {
			case nil:
				fields[name] = v
			case []any:
				fields[name] = append(prev, v)
			default:
				fields[name] = []any{prev, v}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			s := strings.TrimSpace(text.String())
			if len(fields) == 0 {
				return s, nil
			}
			if s != "" {
				fields[xmlText] = s
			}
			return fields, nil
		}
	}
}
