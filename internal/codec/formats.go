package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/BurntSushi/toml"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"optsync/internal/snapshot"
)

// TOML stores options as a TOML document; nested maps become tables.
type TOML struct{}

func (TOML) Name() string { return "toml" }

func (TOML) Encode(snap snapshot.Snapshot) ([]byte, error) {
	var out bytes.Buffer
	if err := toml.NewEncoder(&out).Encode(map[string]any(snap)); err != nil {
		return nil, fmt.Errorf("encode toml: %w", err)
	}
	return out.Bytes(), nil
}

func (TOML) Decode(data []byte) (snapshot.Snapshot, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("decode toml: %w", err)
	}
	return snapshot.FromMap(raw)
}

type YAML struct{}

func (YAML) Name() string { return "yaml" }

func (YAML) Encode(snap snapshot.Snapshot) ([]byte, error) {
	var out bytes.Buffer
	encoder := yaml.NewEncoder(&out)
	encoder.SetIndent(2)
	if err := encoder.Encode(map[string]any(snap)); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return out.Bytes(), nil
}

func (YAML) Decode(data []byte) (snapshot.Snapshot, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return snapshot.FromMap(raw)
}

type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(snap snapshot.Snapshot) ([]byte, error) {
	payload, err := json.MarshalIndent(map[string]any(snap), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(payload, '\n'), nil
}

func (JSON) Decode(data []byte) (snapshot.Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return snapshot.New(), nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	raw := map[string]any{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return snapshot.FromMap(raw)
}

// Proto stores options as a binary google.protobuf.Struct. Struct numbers
// are doubles, so integral values are restored to int64 on decode.
type Proto struct{}

func (Proto) Name() string { return "proto" }

func (Proto) Encode(snap snapshot.Snapshot) ([]byte, error) {
	message, err := structpb.NewStruct(map[string]any(snap))
	if err != nil {
		return nil, fmt.Errorf("encode proto: %w", err)
	}
	payload, err := proto.MarshalOptions{Deterministic: true}.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode proto: %w", err)
	}
	return payload, nil
}

func (Proto) Decode(data []byte) (snapshot.Snapshot, error) {
	message := &structpb.Struct{}
	if err := proto.Unmarshal(data, message); err != nil {
		return nil, fmt.Errorf("decode proto: %w", err)
	}
	raw := message.AsMap()
	for key, value := range raw {
		raw[key] = restoreIntegers(value)
	}
	return snapshot.FromMap(raw)
}

const maxExactFloatInt = 1 << 53

func restoreIntegers(value any) any {
	switch typed := value.(type) {
	case float64:
		if typed == math.Trunc(typed) && math.Abs(typed) <= maxExactFloatInt {
			return int64(typed)
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = restoreIntegers(item)
		}
		return typed
	case map[string]any:
		for key, item := range typed {
			typed[key] = restoreIntegers(item)
		}
		return typed
	default:
		return value
	}
}
