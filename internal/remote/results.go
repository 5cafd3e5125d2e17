package remote

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/lychee-technology/fedsparql"
)

// MediaTypeResults is the SPARQL 1.1 JSON results media type.
const MediaTypeResults = "application/sparql-results+json"

type jsonTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

func encodeTerm(t fedsparql.Term) jsonTerm {
	switch t.Kind {
	case fedsparql.TermKindIRI:
		return jsonTerm{Type: "uri", Value: t.Value}
	case fedsparql.TermKindBlank:
		return jsonTerm{Type: "bnode", Value: t.Value}
	default:
		return jsonTerm{Type: "literal", Value: t.Value, Lang: t.Lang, Datatype: t.Datatype}
	}
}

type resultsHead struct {
	Vars []string `json:"vars"`
}

type selectDocument struct {
	Head    resultsHead `json:"head"`
	Results struct {
		Bindings []map[string]jsonTerm `json:"bindings"`
	} `json:"results"`
}

// WriteResults encodes rows as a SPARQL JSON results document. Variables
// unbound in a row are omitted from its binding.
func WriteResults(w io.Writer, vars []string, rows []fedsparql.BindingSet) error {
	doc := selectDocument{Head: resultsHead{Vars: vars}}
	if doc.Head.Vars == nil {
		doc.Head.Vars = []string{}
	}
	doc.Results.Bindings = make([]map[string]jsonTerm, 0, len(rows))
	for _, row := range rows {
		b := make(map[string]jsonTerm, len(row))
		for k, t := range row {
			b[k] = encodeTerm(t)
		}
		doc.Results.Bindings = append(doc.Results.Bindings, b)
	}
	return json.NewEncoder(w).Encode(doc)
}

// WriteBoolean encodes an ASK result document.
func WriteBoolean(w io.Writer, answer bool) error {
	return json.NewEncoder(w).Encode(struct {
		Head    resultsHead `json:"head"`
		Boolean bool        `json:"boolean"`
	}{Head: resultsHead{Vars: []string{}}, Boolean: answer})
}

func (jt jsonTerm) term() (fedsparql.Term, error) {
	switch jt.Type {
	case "uri":
		return fedsparql.IRI(jt.Value), nil
	case "bnode":
		return fedsparql.Blank(jt.Value), nil
	case "literal", "typed-literal":
		switch {
		case jt.Lang != "":
			return fedsparql.LangLiteral(jt.Value, jt.Lang), nil
		case jt.Datatype != "":
			return fedsparql.TypedLiteral(jt.Value, jt.Datatype), nil
		default:
			return fedsparql.Literal(jt.Value), nil
		}
	default:
		return fedsparql.Term{}, fmt.Errorf("unknown term type %q", jt.Type)
	}
}

// decodeBindings streams the rows of a SELECT result document, calling emit
// for each solution until emit returns false.
func decodeBindings(r io.Reader, emit func(fedsparql.BindingSet) bool) error {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		key, err := objectKey(dec)
		if err != nil {
			return err
		}
		if key != "results" {
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}
		if err := expectDelim(dec, '{'); err != nil {
			return err
		}
		for dec.More() {
			key, err := objectKey(dec)
			if err != nil {
				return err
			}
			if key != "bindings" {
				if err := skipValue(dec); err != nil {
					return err
				}
				continue
			}
			if err := expectDelim(dec, '['); err != nil {
				return err
			}
			for dec.More() {
				var raw map[string]jsonTerm
				if err := dec.Decode(&raw); err != nil {
					return fmt.Errorf("decode solution: %w", err)
				}
				row := make(fedsparql.BindingSet, len(raw))
				for name, jt := range raw {
					t, err := jt.term()
					if err != nil {
						return fmt.Errorf("binding %s: %w", name, err)
					}
					row[name] = t
				}
				if !emit(row) {
					return nil
				}
			}
			if err := expectDelim(dec, ']'); err != nil {
				return err
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

type booleanResult struct {
	Boolean *bool `json:"boolean"`
}

func decodeBoolean(r io.Reader) (bool, error) {
	var res booleanResult
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return false, fmt.Errorf("decode boolean result: %w", err)
	}
	if res.Boolean == nil {
		return false, fmt.Errorf("result document has no boolean member")
	}
	return *res.Boolean, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func objectKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

func skipValue(dec *json.Decoder) error {
	var raw json.RawMessage
	return dec.Decode(&raw)
}
