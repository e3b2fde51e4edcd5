package mongodb

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// Pipeline is a materialized aggregation pipeline over one collection.
// Columns lists the output fields in projection order.
type Pipeline struct {
	Collection string
	Stages     []bson.D
	Columns    []string
}

// StageOperators implements safety.Pipeline.
func (p *Pipeline) StageOperators() []string {
	ops := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		for _, e := range s {
			ops = append(ops, e.Key)
		}
	}
	return ops
}

// LimitValue implements safety.Pipeline.
func (p *Pipeline) LimitValue() (int, bool) {
	for _, s := range p.Stages {
		for _, e := range s {
			if e.Key != "$limit" {
				continue
			}
			switch n := e.Value.(type) {
			case int:
				return n, true
			case int32:
				return int(n), true
			case int64:
				return int(n), true
			}
		}
	}
	return 0, false
}

// MarshalJSON renders the stages as relaxed extended JSON, keeping key order.
func (p *Pipeline) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, s := range p.Stages {
		if i > 0 {
			buf.WriteByte(',')
		}
		raw, err := bson.MarshalExtJSON(s, false, false)
		if err != nil {
			return nil, fmt.Errorf("marshal stage %d: %w", i, err)
		}
		buf.Write(raw)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// decodeStages turns a hand-edited pipeline, decoded as generic JSON, into
// ordered BSON stages. Extended JSON values such as {"$date": ...} are honored.
func decodeStages(doc any) ([]bson.D, error) {
	switch d := doc.(type) {
	case *Pipeline:
		return d.Stages, nil
	case []bson.D:
		return d, nil
	}
	raw, err := json.Marshal(map[string]any{"pipeline": doc})
	if err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	var wrapper struct {
		Pipeline []bson.D `bson:"pipeline"`
	}
	if err := bson.UnmarshalExtJSON(raw, false, &wrapper); err != nil {
		return nil, fmt.Errorf("pipeline is not valid extended JSON: %w", err)
	}
	return wrapper.Pipeline, nil
}

var _ safety.Pipeline = (*Pipeline)(nil)
