package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/params"
)

// Request is the host-facing query payload. List-valued fields arrive as JSON
// strings so that hosts without structured bindings can build them by hand.
type Request struct {
	QueryID             string `json:"queryId"`
	TargetObjectType    string `json:"targetObjectType,omitempty"`
	ReferencePointsJSON string `json:"referencePointsJson,omitempty"`
	AreaOfInterestJSON  string `json:"areaOfInterestJson,omitempty"`
	ConditionsJSON      string `json:"conditionsJson,omitempty"`
	ScoringCriteriaJSON string `json:"scoringCriteriaJson,omitempty"`
	DesiredResultCount  int    `json:"desiredResultCount"`
}

// Decode parses and validates the embedded JSON documents. A missing query id
// is replaced by a fresh UUID.
func (r Request) Decode() (*Query, error) {
	q := &Query{
		ID:                 strings.TrimSpace(r.QueryID),
		TargetObjectType:   r.TargetObjectType,
		DesiredResultCount: r.DesiredResultCount,
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if err := decodeEmbedded("referencePointsJson", r.ReferencePointsJSON, &q.ReferencePoints); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.AreaOfInterestJSON) != "" && strings.TrimSpace(r.AreaOfInterestJSON) != "null" {
		q.AreaOfInterest = &AreaOfInterest{}
		if err := decodeEmbedded("areaOfInterestJson", r.AreaOfInterestJSON, q.AreaOfInterest); err != nil {
			return nil, err
		}
	}
	if err := decodeEmbedded("conditionsJson", r.ConditionsJSON, &q.Conditions); err != nil {
		return nil, err
	}
	if err := decodeEmbedded("scoringCriteriaJson", r.ScoringCriteriaJSON, &q.Criteria); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func decodeEmbedded(field, doc string, dst any) error {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(doc))
	if err := dec.Decode(dst); err != nil {
		return eqserr.Field(field, err)
	}
	if dec.More() {
		return eqserr.Field(field, errors.New("trailing data after JSON document"))
	}
	return nil
}

// LoadJSON reads a whole query document, as opposed to a Request with
// embedded strings.
func LoadJSON(r io.Reader) (*Query, error) {
	var q Query
	if err := json.NewDecoder(r).Decode(&q); err != nil {
		return nil, eqserr.Field("query", err)
	}
	return finish(&q)
}

// LoadYAML reads a whole query document in YAML.
func LoadYAML(r io.Reader) (*Query, error) {
	var q Query
	if err := yaml.NewDecoder(r).Decode(&q); err != nil {
		return nil, eqserr.Field("query", err)
	}
	return finish(&q)
}

func finish(q *Query) (*Query, error) {
	if strings.TrimSpace(q.ID) == "" {
		q.ID = uuid.NewString()
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// Wire shapes accept both the short and the long type key.

type conditionWire struct {
	Type          string        `json:"type" yaml:"type"`
	ConditionType string        `json:"conditionType" yaml:"condition_type"`
	Parameters    params.Params `json:"parameters" yaml:"parameters"`
	Weight        *float64      `json:"weight" yaml:"weight"`
	Invert        bool          `json:"invert" yaml:"invert"`
}

func (w conditionWire) condition() Condition {
	c := Condition{Type: w.Type, Parameters: w.Parameters, Weight: 1, Invert: w.Invert}
	if c.Type == "" {
		c.Type = w.ConditionType
	}
	if w.Weight != nil {
		c.Weight = *w.Weight
	}
	return c
}

func (c *Condition) UnmarshalJSON(b []byte) error {
	var w conditionWire
	if err := strictObject(b, &w); err != nil {
		return err
	}
	*c = w.condition()
	return nil
}

func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	var w conditionWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	*c = w.condition()
	return nil
}

type criterionWire struct {
	Type                string        `json:"type" yaml:"type"`
	CriterionType       string        `json:"criterionType" yaml:"criterion_type"`
	Parameters          params.Params `json:"parameters" yaml:"parameters"`
	Weight              *float64      `json:"weight" yaml:"weight"`
	NormalizationMethod string        `json:"normalizationMethod" yaml:"normalization_method"`
}

func (w criterionWire) criterion() Criterion {
	c := Criterion{Type: w.Type, Parameters: w.Parameters, Weight: 1, NormalizationMethod: w.NormalizationMethod}
	if c.Type == "" {
		c.Type = w.CriterionType
	}
	if w.Weight != nil {
		c.Weight = *w.Weight
	}
	return c
}

func (c *Criterion) UnmarshalJSON(b []byte) error {
	var w criterionWire
	if err := strictObject(b, &w); err != nil {
		return err
	}
	*c = w.criterion()
	return nil
}

func (c *Criterion) UnmarshalYAML(node *yaml.Node) error {
	var w criterionWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	*c = w.criterion()
	return nil
}

// strictObject rejects non-object entries such as bare strings in a list.
func strictObject(b []byte, dst any) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return errors.New("expected JSON object")
	}
	return json.Unmarshal(b, dst)
}
