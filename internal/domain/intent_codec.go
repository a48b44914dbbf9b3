package domain

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// DecodeIntent 按 "kind" 标签解码意图并校验。未知 kind 一律拒绝。
func DecodeIntent(b []byte) (TradeIntent, error) {
	var head struct {
		Kind IntentKind `json:"kind"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("invalid intent json: %w", err)
	}

	var intent TradeIntent
	switch head.Kind {
	case IntentSignal:
		var s SignalIntent
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("invalid signal intent: %w", err)
		}
		intent = s
	case IntentArbitrage:
		var a ArbitrageIntent
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, fmt.Errorf("invalid arbitrage intent: %w", err)
		}
		intent = a
	case "":
		return nil, fmt.Errorf("invalid intent: missing kind")
	default:
		return nil, fmt.Errorf("invalid intent: unsupported kind %q", head.Kind)
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}
