// Package oraclexml parses the Oracle RDBMS/listener alert log XML
// dialect and reassembles TNS multi-message sequences, per spec.md §4.3.
package oraclexml

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// envelope is one parsed <msg ...><txt>...</txt></msg> block.
type envelope struct {
	Attrs      map[string]string // msg element attributes
	Standalone map[string]string // standalone <attr name=.. value=../> pairs
	Text       string            // decoded <txt> body
}

// parseEnvelope parses one complete "<msg ...>...</msg>" text block. The
// block is always well-formed and self-contained (it was assembled by the
// prefix/suffix grouper below), so a plain one-shot parse is sufficient;
// this is why github.com/antchfx/xmlquery's streaming parser
// (CreateStreamParser) is not needed here despite being the library's
// headline feature for open-ended XML streams — that streaming mode
// expects one continuous, eventually-closed document, whereas the alert
// log never closes its outer document at all. xmlquery.Parse on each
// self-contained envelope is the correct granularity; see DESIGN.md.
func parseEnvelope(text string) (*envelope, error) {
	doc, err := xmlquery.Parse(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parsing msg envelope: %w", err)
	}

	msgNode := xmlquery.FindOne(doc, "//msg")
	if msgNode == nil {
		return nil, fmt.Errorf("no <msg> element in envelope")
	}

	env := &envelope{
		Attrs:      make(map[string]string, len(msgNode.Attr)),
		Standalone: make(map[string]string),
	}
	for _, a := range msgNode.Attr {
		env.Attrs[a.Name.Local] = a.Value
	}

	for c := msgNode.FirstChild; c != nil; c = c.NextSibling {
		switch c.Data {
		case "txt":
			env.Text = c.InnerText()
		case "attr":
			var name, value string
			for _, a := range c.Attr {
				switch a.Name.Local {
				case "name":
					name = a.Value
				case "value":
					value = a.Value
				}
			}
			if name != "" {
				env.Standalone[name] = value
			}
		}
	}

	return env, nil
}

// fields renders env as the ora.-prefixed field set of spec.md §4.3, plus
// host/file/line.
func (env *envelope) fields(host, file string) map[string]interface{} {
	out := make(map[string]interface{}, len(env.Attrs)+len(env.Standalone)+3)
	for k, v := range env.Attrs {
		out["ora."+k] = v
	}
	for k, v := range env.Standalone {
		out["ora."+k] = v
	}
	out["host"] = host
	out["file"] = file
	out["line"] = env.Text
	return out
}
