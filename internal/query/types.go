// Package query implements the query compiler: the MongoDB-like request DSL
// is parsed into a validated ParsedQuery, which the store lowers to
// parameterized SQL and the realtime registry evaluates in memory. Parsing
// is pure; it never touches storage.
package query

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/b3vet/swiftbase/internal/model"
)

// Action tags a request with its operation.
type Action string

const (
	ActionFind      Action = "find"
	ActionFindOne   Action = "findOne"
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionCount     Action = "count"
	ActionAggregate Action = "aggregate"
	ActionCustom    Action = "custom"
)

// Options carries the action modifiers of a request.
type Options struct {
	Upsert    bool `json:"upsert,omitempty"`
	Multi     bool `json:"multi,omitempty"`
	Validate  bool `json:"validate,omitempty"`
	ReturnNew bool `json:"returnNew,omitempty"`
}

// Request is the transport-agnostic query request shape.
type Request struct {
	Action     Action         `json:"action"`
	Collection string         `json:"collection"`
	Query      *Spec          `json:"query,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Pipeline   []any          `json:"pipeline,omitempty"`
	Options    Options        `json:"options,omitempty"`
	Custom     string         `json:"custom,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// Spec is the declarative query part of a request. OrderBy preserves the
// JSON key order of the incoming document; insertion order is the tie-break
// priority, which encoding/json's map decoding would destroy, hence the
// custom unmarshalling below.
type Spec struct {
	Where    map[string]any `json:"where,omitempty"`
	Select   any            `json:"select,omitempty"`
	OrderBy  []OrderField   `json:"orderBy,omitempty"`
	Limit    *int           `json:"limit,omitempty"`
	Offset   *int           `json:"offset,omitempty"`
	Distinct string         `json:"distinct,omitempty"`
}

type specAlias struct {
	Where    map[string]any  `json:"where,omitempty"`
	Select   any             `json:"select,omitempty"`
	OrderBy  json.RawMessage `json:"orderBy,omitempty"`
	Limit    *int            `json:"limit,omitempty"`
	Offset   *int            `json:"offset,omitempty"`
	Distinct string          `json:"distinct,omitempty"`
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	var alias specAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	s.Where = alias.Where
	s.Select = alias.Select
	s.Limit = alias.Limit
	s.Offset = alias.Offset
	s.Distinct = alias.Distinct
	if len(alias.OrderBy) > 0 && !bytes.Equal(alias.OrderBy, []byte("null")) {
		order, err := parseOrderBy(alias.OrderBy)
		if err != nil {
			return err
		}
		s.OrderBy = order
	}
	return nil
}

func (s Spec) MarshalJSON() ([]byte, error) {
	alias := specAlias{
		Where:    s.Where,
		Select:   s.Select,
		Limit:    s.Limit,
		Offset:   s.Offset,
		Distinct: s.Distinct,
	}
	if len(s.OrderBy) > 0 {
		raw, err := encodeOrderBy(s.OrderBy)
		if err != nil {
			return nil, err
		}
		alias.OrderBy = raw
	}
	return json.Marshal(alias)
}

// OrderField is one ordering component.
type OrderField struct {
	Field string
	Desc  bool
}

// Projection restricts the returned payload fields. Include=true keeps only
// Fields; Include=false drops Fields. Metadata fields are always kept.
type Projection struct {
	Include bool
	Fields  []string
}

// Condition is one node of the validated condition tree. Leaf nodes carry
// Field/Op/Value; logical nodes ($and, $or, $not, $nor) carry Children, as
// does $elemMatch (whose children apply to the array element). Pattern is
// the compiled form of a $regex operand.
type Condition struct {
	Field    string
	Op       string
	Value    any
	Children []Condition
	Pattern  *regexp.Regexp
}

// ParsedQuery is the compiler output: the validated internal form every
// downstream consumer (SQL lowering, in-memory evaluation, subscription
// filters) works from. An empty Conditions list matches all documents.
// Limit and Offset are -1 when absent.
type ParsedQuery struct {
	Conditions []Condition
	Combine    string // "$and" or "$or"; applies when len(Conditions) > 1
	Order      []OrderField
	Limit      int
	Offset     int
	Projection *Projection
	Distinct   string
}

// MatchesAll reports whether the query has no conditions.
func (q *ParsedQuery) MatchesAll() bool { return len(q.Conditions) == 0 }

func parseOrderBy(raw json.RawMessage) ([]OrderField, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, model.MalformedQuery("orderBy must be an object")
	}
	var order []OrderField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		field := keyTok.(string)
		valTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		desc, err := orderDirection(valTok)
		if err != nil {
			return nil, model.MalformedQuery("orderBy.%s: %v", field, err)
		}
		order = append(order, OrderField{Field: field, Desc: desc})
	}
	return order, nil
}

func encodeOrderBy(order []OrderField) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, o := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(o.Field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		if o.Desc {
			buf.WriteString(":-1")
		} else {
			buf.WriteString(":1")
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
