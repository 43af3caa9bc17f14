package transform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"
)

// JqTransform compiles query and returns a transform that runs it over
// each event's data. The query can read the event name as $name.
//
// A query with several results yields them as an array; a query with no
// results drops the event. If the query fails at run time the event is
// passed through unchanged and the error is logged when logger is set.
//
// Data is normalized first: strings and byte slices holding JSON are
// parsed, and anything other than plain maps, slices and scalars goes
// through encoding/json.
func JqTransform(query string, logger *zap.Logger) (EventTransformFunc, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JQ query '%s': %w", query, err)
	}
	code, err := gojq.Compile(parsed, gojq.WithVariables([]string{"$name"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile JQ query '%s': %w", query, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ev *Event) (*Event, bool) {
		log := logger.With(zap.String("jq_query", query), zap.String("name", ev.Name))

		input, err := jqInput(ev.Data)
		if err != nil {
			log.Error("JQ transform: failed to normalize payload",
				zap.String("payload_type", fmt.Sprintf("%T", ev.Data)), zap.Error(err))
			return ev, true
		}

		ctx := ev.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		iter := code.RunWithContext(ctx, input, ev.Name)

		var results []any
		for {
			result, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := result.(error); isErr {
				log.Error("JQ transform: JQ execution error", zap.Error(err))
				return ev, true
			}
			results = append(results, result)
		}

		switch len(results) {
		case 0:
			return nil, false
		case 1:
			return &Event{Ctx: ev.Ctx, Name: ev.Name, Data: results[0]}, true
		default:
			return &Event{Ctx: ev.Ctx, Name: ev.Name, Data: results}, true
		}
	}, nil
}

func jqInput(data any) (any, error) {
	var out any
	switch v := data.(type) {
	case nil, bool, int, float64, map[string]any, []any:
		return v, nil
	case string:
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return v, nil
		}
		return out, nil
	case []byte:
		if err := json.Unmarshal(v, &out); err != nil {
			return string(v), nil
		}
		return out, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
