package workflow

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/protocol"
)

// executeCoreAction handles the core.* namespace: pure data operations with
// no side effects on run state beyond their return value.
func (e *Engine) executeCoreAction(action string, inputs map[string]any) (any, error) {
	switch action {
	case "core.set":
		return inputs["value"], nil

	case "core.extract":
		return extractPath(inputs["data"], stringInput(inputs, "path"))

	case "core.aggregate":
		return aggregate(inputs)

	case "core.compare":
		return compare(inputs)

	case "core.parse":
		return parseValue(inputs)

	case "core.compress":
		return compress(inputs)

	case "core.datetime":
		return datetime(inputs)

	case "core.transform":
		return transform(inputs)

	default:
		return nil, models.NewValidationError("unknown core action: " + action)
	}
}

// executeWorkflowAction handles the workflow.* namespace: actions that touch
// the run itself rather than data.
func (e *Engine) executeWorkflowAction(ctx context.Context, execCtx *models.ExecutionContext, action string, inputs map[string]any) (any, error) {
	switch action {
	case "workflow.set_outputs":
		outputs := make(map[string]any, len(inputs)+1)
		for key, value := range inputs {
			outputs[key] = value
		}

		outputs[OutputsMarkerKey] = true

		return outputs, nil

	case "workflow.sleep":
		return nil, e.sleep(ctx, execCtx, stringInput(inputs, "duration"))

	case "workflow.fail":
		message := stringInput(inputs, "message")
		if message == "" {
			message = "workflow.fail invoked"
		}

		return nil, &models.WorkflowFatalError{Reason: message}

	case "workflow.log":
		e.logStep(execCtx, inputs)

		return nil, nil

	case "workflow.timestamp":
		now := time.Now().UTC()

		return map[string]any{
			"unix": now.Unix(),
			"iso":  now.Format(time.RFC3339),
		}, nil

	case "workflow.noop":
		return nil, nil

	default:
		return nil, models.NewValidationError("unknown workflow action: " + action)
	}
}

// executeEventAction handles the event.* namespace against the event-source
// collaborator.
func (e *Engine) executeEventAction(ctx context.Context, action string, inputs map[string]any) (any, error) {
	if e.sources == nil {
		return nil, models.NewValidationError("no event source configured")
	}

	switch action {
	case "event.connect":
		options, _ := inputs["options"].(map[string]any)

		err := e.sources.Connect(ctx, stringInput(inputs, "kind"), stringInput(inputs, "id"), options)
		if err != nil {
			return nil, err
		}

		return map[string]any{"connected": true}, nil

	case "event.wait":
		timeout, err := parseOptionalDuration(stringInput(inputs, "timeout"))
		if err != nil {
			return nil, models.NewValidationError("invalid event.wait timeout: " + err.Error())
		}

		filter := protocol.EventFilter{
			SourceID: stringInput(inputs, "source_id"),
			Type:     stringInput(inputs, "type"),
		}

		event, err := e.sources.Wait(ctx, filter, timeout)
		if err != nil {
			return nil, err
		}

		return map[string]any{
			"source_id": event.SourceID,
			"type":      event.Type,
			"data":      event.Data,
			"timestamp": event.Timestamp.Format(time.RFC3339),
		}, nil

	case "event.disconnect":
		return nil, e.sources.Disconnect(ctx, stringInput(inputs, "id"))

	case "event.status":
		status := e.sources.Status()
		result := make(map[string]any, len(status))

		for id, state := range status {
			result[id] = state
		}

		return result, nil

	default:
		return nil, models.NewValidationError("unknown event action: " + action)
	}
}

func (e *Engine) sleep(ctx context.Context, execCtx *models.ExecutionContext, duration string) error {
	d, err := time.ParseDuration(duration)
	if err != nil {
		return models.NewValidationError("invalid sleep duration: " + err.Error())
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &models.CancellationError{RunID: execCtx.RunID}
	}
}

func (e *Engine) logStep(execCtx *models.ExecutionContext, inputs map[string]any) {
	message := stringInput(inputs, "message")
	logger := e.logger.With("run_id", execCtx.RunID)

	switch stringInput(inputs, "level") {
	case "debug":
		logger.Debug(message)
	case "warn":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}
}

func stringInput(inputs map[string]any, key string) string {
	value, _ := inputs[key].(string)

	return value
}

// extractPath walks a dotted path through nested maps and slices. Numeric
// segments index into slices.
func extractPath(data any, path string) (any, error) {
	if path == "" {
		return data, nil
	}

	current := data

	for _, segment := range splitPath(path) {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, models.NewValidationError("path segment not found: " + segment)
			}

			current = value

		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, models.NewValidationError("invalid array index: " + segment)
			}

			current = node[index]

		default:
			return nil, models.NewValidationError(
				fmt.Sprintf("cannot descend into %T at segment %q", current, segment))
		}
	}

	return current, nil
}

func splitPath(path string) []string {
	var segments []string

	start := 0

	for i := range len(path) {
		if path[i] == '.' {
			segments = append(segments, path[start:i])
			start = i + 1
		}
	}

	return append(segments, path[start:])
}

func aggregate(inputs map[string]any) (any, error) {
	items, ok := inputs["items"].([]any)
	if !ok {
		return nil, models.NewValidationError("core.aggregate requires an items array")
	}

	op := stringInput(inputs, "op")
	if op == "count" {
		return len(items), nil
	}

	if len(items) == 0 {
		return nil, models.NewValidationError("core.aggregate " + op + " requires a non-empty items array")
	}

	numbers := make([]float64, len(items))

	for i, item := range items {
		number, ok := toFloat(item)
		if !ok {
			return nil, models.NewValidationError(
				fmt.Sprintf("core.aggregate item %d is not a number", i))
		}

		numbers[i] = number
	}

	switch op {
	case "sum", "avg":
		var total float64
		for _, n := range numbers {
			total += n
		}

		if op == "avg" {
			return total / float64(len(numbers)), nil
		}

		return total, nil

	case "min":
		result := numbers[0]
		for _, n := range numbers[1:] {
			if n < result {
				result = n
			}
		}

		return result, nil

	case "max":
		result := numbers[0]
		for _, n := range numbers[1:] {
			if n > result {
				result = n
			}
		}

		return result, nil

	default:
		return nil, models.NewValidationError("unknown aggregate op: " + op)
	}
}

func compare(inputs map[string]any) (any, error) {
	left, right := inputs["left"], inputs["right"]

	switch op := stringInput(inputs, "op"); op {
	case "eq":
		return equals(left, right), nil
	case "ne":
		return !equals(left, right), nil
	case "gt", "gte", "lt", "lte":
		l, lok := toFloat(left)
		r, rok := toFloat(right)

		if !lok || !rok {
			return nil, models.NewValidationError("core.compare " + op + " requires numeric operands")
		}

		switch op {
		case "gt":
			return l > r, nil
		case "gte":
			return l >= r, nil
		case "lt":
			return l < r, nil
		default:
			return l <= r, nil
		}
	default:
		return nil, models.NewValidationError("unknown compare op: " + op)
	}
}

// equals compares with numeric normalization so int(3) equals float64(3).
func equals(left, right any) bool {
	if l, ok := toFloat(left); ok {
		if r, ok := toFloat(right); ok {
			return l == r
		}
	}

	return reflect.DeepEqual(left, right)
}

func parseValue(inputs map[string]any) (any, error) {
	raw := stringInput(inputs, "value")

	switch format := stringInput(inputs, "format"); format {
	case "", "json":
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil, models.NewValidationError("core.parse: invalid JSON: " + err.Error())
		}

		return parsed, nil

	case "int":
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, models.NewValidationError("core.parse: invalid int: " + err.Error())
		}

		return parsed, nil

	case "float":
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, models.NewValidationError("core.parse: invalid float: " + err.Error())
		}

		return parsed, nil

	case "bool":
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, models.NewValidationError("core.parse: invalid bool: " + err.Error())
		}

		return parsed, nil

	default:
		return nil, models.NewValidationError("unknown parse format: " + format)
	}
}

// compress gzips then base64-encodes, and the inverse for decompress.
func compress(inputs map[string]any) (any, error) {
	data := stringInput(inputs, "data")

	switch op := stringInput(inputs, "op"); op {
	case "", "compress":
		var buf bytes.Buffer

		writer := gzip.NewWriter(&buf)
		if _, err := writer.Write([]byte(data)); err != nil {
			return nil, fmt.Errorf("compression failed: %w", err)
		}

		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("compression failed: %w", err)
		}

		return base64.StdEncoding.EncodeToString(buf.Bytes()), nil

	case "decompress":
		compressed, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, models.NewValidationError("core.compress: invalid base64: " + err.Error())
		}

		reader, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, models.NewValidationError("core.compress: invalid gzip stream: " + err.Error())
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("decompression failed: %w", err)
		}

		return string(decompressed), nil

	default:
		return nil, models.NewValidationError("unknown compress op: " + op)
	}
}

func datetime(inputs map[string]any) (any, error) {
	layout := stringInput(inputs, "layout")
	if layout == "" {
		layout = time.RFC3339
	}

	switch op := stringInput(inputs, "op"); op {
	case "", "now":
		return time.Now().UTC().Format(layout), nil

	case "parse":
		parsed, err := time.Parse(layout, stringInput(inputs, "value"))
		if err != nil {
			return nil, models.NewValidationError("core.datetime: " + err.Error())
		}

		return parsed.UTC().Format(time.RFC3339), nil

	case "add":
		base, err := time.Parse(time.RFC3339, stringInput(inputs, "value"))
		if err != nil {
			return nil, models.NewValidationError("core.datetime: " + err.Error())
		}

		offset, err := time.ParseDuration(stringInput(inputs, "duration"))
		if err != nil {
			return nil, models.NewValidationError("core.datetime: invalid duration: " + err.Error())
		}

		return base.Add(offset).UTC().Format(layout), nil

	default:
		return nil, models.NewValidationError("unknown datetime op: " + op)
	}
}

func transform(inputs map[string]any) (any, error) {
	items, ok := inputs["items"].([]any)
	if !ok {
		return nil, models.NewValidationError("core.transform requires an items array")
	}

	switch op := stringInput(inputs, "op"); op {
	case "pluck":
		field := stringInput(inputs, "field")
		result := make([]any, 0, len(items))

		for _, item := range items {
			entry, ok := item.(map[string]any)
			if !ok {
				return nil, models.NewValidationError("core.transform pluck requires object items")
			}

			result = append(result, entry[field])
		}

		return result, nil

	case "filter_eq":
		field := stringInput(inputs, "field")
		want := inputs["value"]
		result := make([]any, 0, len(items))

		for _, item := range items {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}

			if equals(entry[field], want) {
				result = append(result, item)
			}
		}

		return result, nil

	case "reverse":
		result := make([]any, len(items))
		for i, item := range items {
			result[len(items)-1-i] = item
		}

		return result, nil

	case "sort":
		result := make([]any, len(items))
		copy(result, items)

		var sortErr error

		sort.SliceStable(result, func(i, j int) bool {
			l, lok := toFloat(result[i])
			r, rok := toFloat(result[j])

			if !lok || !rok {
				sortErr = models.NewValidationError("core.transform sort requires numeric items")

				return false
			}

			return l < r
		})

		if sortErr != nil {
			return nil, sortErr
		}

		return result, nil

	default:
		return nil, models.NewValidationError("unknown transform op: " + op)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}
