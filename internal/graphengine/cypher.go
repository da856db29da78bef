package graphengine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/intellabs/vdms-go/internal/model"
	"github.com/intellabs/vdms-go/internal/querybuilder"
)

// compilePredicate renders a PredicateNode into an openCypher boolean
// expression over alias, e.g. "((n.`Age` >= 18) AND (n.`Age` < 65))". AGE's cypher()
// function takes a single literal query string rather than placeholder
// parameters, so values are inlined with escaping instead of bound - the
// same string-building posture age_graph.go itself uses for its DDL
// helper queries.
func compilePredicate(alias string, node *querybuilder.PredicateNode) string {
	if node == nil {
		return "true"
	}
	if node.Leaf != nil {
		return "(" + compileLeaf(alias, node.Leaf) + ")"
	}
	if len(node.And) > 0 {
		parts := make([]string, len(node.And))
		for i, c := range node.And {
			parts[i] = compilePredicate(alias, c)
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	}
	if len(node.Or) > 0 {
		parts := make([]string, len(node.Or))
		for i, c := range node.Or {
			parts[i] = compilePredicate(alias, c)
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	}
	return "true"
}

func compileLeaf(alias string, p *querybuilder.Predicate) string {
	return fmt.Sprintf("%s.%s %s %s", alias, cypherIdent(p.Key), cypherOp(p.Op), cypherLiteral(p.Value))
}

func cypherOp(op querybuilder.CompareOp) string {
	switch op {
	case querybuilder.OpEQ:
		return "="
	default:
		return string(op)
	}
}

// cypherIdent passes property keys through unescaped backtick quoting;
// callers only ever supply keys already validated by
// querybuilder.typedProperties (reserved-prefix rejected, JSON object
// keys only), so no further escaping is required here.
func cypherIdent(key string) string {
	return "`" + strings.ReplaceAll(key, "`", "") + "`"
}

func cypherLiteral(v model.PropertyValue) string {
	switch v.Type {
	case model.PropBool:
		return strconv.FormatBool(v.B)
	case model.PropInt:
		return strconv.FormatInt(v.I, 10)
	case model.PropFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case model.PropTime:
		return cypherStringLiteral(v.T.Format(time.RFC3339))
	case model.PropString:
		return cypherStringLiteral(v.S)
	default:
		return "null"
	}
}

func cypherStringLiteral(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// cypherProperties renders a property map as a Cypher map literal used in
// SET/CREATE clauses, e.g. {Name: "A", Age: 30}.
func cypherProperties(props map[string]model.PropertyValue) string {
	if len(props) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(props))
	for k, v := range props {
		parts = append(parts, fmt.Sprintf("%s: %s", cypherIdent(k), cypherLiteral(v)))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func cypherDirectionPattern(dir querybuilder.Direction, edgeTag string) (left, right string) {
	tagPart := ""
	if edgeTag != "" {
		tagPart = ":" + cypherIdentRaw(edgeTag)
	}
	switch dir {
	case querybuilder.DirOut:
		return "", fmt.Sprintf("-[e%s]->", tagPart)
	case querybuilder.DirIn:
		return fmt.Sprintf("<-[e%s]-", tagPart), ""
	default:
		return "", fmt.Sprintf("-[e%s]-", tagPart)
	}
}

func cypherIdentRaw(tag string) string {
	return strings.ReplaceAll(tag, "`", "")
}
