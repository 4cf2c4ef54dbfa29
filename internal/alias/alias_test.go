package alias

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return raw
}

func TestLookupFirstNonEmptyWins(t *testing.T) {
	field := Field{"totalRounds", "total_rounds", "totalFlights"}

	raw := decode(t, `{"total_rounds": 12, "totalRounds": 7}`)
	if v, ok := Int(raw, field); !ok || v != 7 {
		t.Fatalf("camelCase should win, got %v %v", v, ok)
	}

	raw = decode(t, `{"total_rounds": 12}`)
	if v, ok := Int(raw, field); !ok || v != 12 {
		t.Fatalf("snake_case fallback failed, got %v %v", v, ok)
	}

	raw = decode(t, `{"totalRounds": 0, "total_rounds": null, "totalFlights": "33"}`)
	if v, ok := Int(raw, field); !ok || v != 33 {
		t.Fatalf("empty aliases should be skipped, got %v %v", v, ok)
	}

	if _, ok := Int(decode(t, `{}`), field); ok {
		t.Fatal("missing field should not resolve")
	}
}

func TestFloatRejectsNonNumeric(t *testing.T) {
	raw := decode(t, `{"multiplier": "not-a-number", "value": 3}`)
	if _, ok := Float(raw, Field{"multiplier", "value"}); ok {
		t.Fatal("first set alias is non-numeric and must not resolve")
	}
	raw = decode(t, `{"multiplier": true}`)
	if _, ok := Float(raw, Field{"multiplier"}); ok {
		t.Fatal("boolean must not resolve as a number")
	}
	raw = decode(t, `{"multiplier": [2]}`)
	if _, ok := Float(raw, Field{"multiplier"}); ok {
		t.Fatal("array must not resolve as a number")
	}
	raw = decode(t, `{"multiplier": " 2.5 "}`)
	if v, ok := Float(raw, Field{"multiplier"}); !ok || v != 2.5 {
		t.Fatalf("numeric string should parse, got %v %v", v, ok)
	}
}

func TestStringObjectSlice(t *testing.T) {
	raw := decode(t, `{"game_id": 1234567, "data": [1, 2], "distribution": {"moon": 1}}`)
	if s, ok := String(raw, Field{"gameId", "game_id"}); !ok || s != "1234567" {
		t.Fatalf("numeric id should format plainly, got %q", s)
	}
	if items, ok := Slice(raw, Field{"data"}); !ok || len(items) != 2 {
		t.Fatalf("slice lookup failed: %v", items)
	}
	if obj, ok := Object(raw, Field{"distribution"}); !ok || obj["moon"] != float64(1) {
		t.Fatalf("object lookup failed: %v", obj)
	}
	if _, ok := Object(raw, Field{"data"}); ok {
		t.Fatal("array is not an object")
	}
}
