package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"pilot-tracker/internal/alias"
	"pilot-tracker/internal/flight"
)

// historySpacing back-fills timestamps for history entries that carry none.
const historySpacing = 15 * time.Second

var (
	typeField       = alias.Field{"type"}
	idField         = alias.Field{"id", "gameId"}
	multiplierField = alias.Field{"multiplier", "crashPoint", "value"}
	timestampField  = alias.Field{"timestamp"}
	roundField      = alias.Field{"gameId", "game_id", "round_id"}
	dataField       = alias.Field{"data"}

	resultTypes = map[string]struct{}{"result": {}, "crash": {}, "flight_ended": {}}
)

var errUnparseable = errors.New("unparseable message")

type messageKind int

const (
	kindIgnored messageKind = iota
	kindResult
	kindHistory
	kindPing
)

type inbound struct {
	kind    messageKind
	outcome flight.Outcome
	history []flight.Outcome
	dropped int
}

type outbound struct {
	Type  string `json:"type"`
	Limit int    `json:"limit,omitempty"`
}

func historyRequest(limit int) outbound {
	return outbound{Type: "get_history", Limit: limit}
}

var pong = outbound{Type: "pong"}

// decodeMessage normalises one inbound frame. Results that fail validation
// come back as kindIgnored; history entries that fail are counted in dropped.
func decodeMessage(data []byte, now time.Time) (inbound, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return inbound{}, fmt.Errorf("%w: %v", errUnparseable, err)
	}

	typ, _ := alias.String(raw, typeField)
	typ = strings.ToLower(typ)

	switch {
	case isResult(typ):
		o, err := normalizeOutcome(raw, now, fallbackID)
		if err != nil {
			return inbound{kind: kindIgnored, dropped: 1}, nil
		}
		return inbound{kind: kindResult, outcome: o}, nil
	case typ == "history":
		items, ok := alias.Slice(raw, dataField)
		if !ok {
			return inbound{kind: kindIgnored}, nil
		}
		msg := inbound{kind: kindHistory, history: make([]flight.Outcome, 0, len(items))}
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				msg.dropped++
				continue
			}
			o, err := normalizeOutcome(obj, now.Add(-time.Duration(i)*historySpacing), historyID)
			if err != nil {
				msg.dropped++
				continue
			}
			msg.history = append(msg.history, o)
		}
		return msg, nil
	case typ == "ping":
		return inbound{kind: kindPing}, nil
	default:
		return inbound{kind: kindIgnored}, nil
	}
}

func isResult(typ string) bool {
	_, ok := resultTypes[typ]
	return ok
}

func fallbackID(flight.Outcome, bool) string { return uuid.NewString() }

// historyID keys id-less history entries by their content when the frame
// pins them down (round label or server timestamp), so a replayed batch maps
// onto the same ids. Anything else gets a fresh random id.
func historyID(o flight.Outcome, stamped bool) string {
	if o.RoundLabel == "" && !stamped {
		return uuid.NewString()
	}
	var ms int64
	if stamped {
		ms = o.Timestamp.UnixMilli()
	}
	key := fmt.Sprintf("%s|%d|%s", o.RoundLabel, ms, strconv.FormatFloat(o.Multiplier, 'f', -1, 64))
	return uuid.NewSHA1(historyNamespace, []byte(key)).String()
}

var historyNamespace = uuid.MustParse("5b0f6f62-2f1e-4d8a-9a41-7c0e3b9d2a10")

func normalizeOutcome(raw map[string]any, defaultTime time.Time, newID func(flight.Outcome, bool) string) (flight.Outcome, error) {
	m, ok := alias.Float(raw, multiplierField)
	if !ok {
		return flight.Outcome{}, flight.ErrInvalidMultiplier
	}
	o := flight.Outcome{
		Multiplier: m,
		Timestamp:  defaultTime,
	}
	if round, ok := alias.String(raw, roundField); ok {
		o.RoundLabel = round
	}
	stamped := false
	if v, ok := alias.Lookup(raw, timestampField); ok {
		if ts, ok := parseTimestamp(v); ok {
			o.Timestamp = ts
			stamped = true
		}
	}
	if id, ok := alias.String(raw, idField); ok {
		o.ID = id
	} else {
		o.ID = newID(o, stamped)
	}
	if err := o.Validate(); err != nil {
		return flight.Outcome{}, err
	}
	return o, nil
}

// parseTimestamp accepts epoch milliseconds (number or numeric string) and
// RFC 3339 strings.
func parseTimestamp(v any) (time.Time, bool) {
	if s, ok := v.(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, true
		}
	}
	ms, err := cast.ToInt64E(v)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
