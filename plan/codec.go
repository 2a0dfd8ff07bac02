package plan

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Wire representation of one condition, used by the journal
type conditionRecord struct {
	Kind      string          `json:"kind"`
	Target    decimal.Decimal `json:"target,omitempty"`
	Tolerance decimal.Decimal `json:"tolerance,omitempty"`
	Signal    string          `json:"signal,omitempty"`
	Timeframe string          `json:"timeframe,omitempty"`
}

const (
	kindPriceNear = "price_near"
	kindStructure = "structure"
	kindOrderFlow = "order_flow"
)

// MarshalConditions encodes a condition set for persistence
func MarshalConditions(conds []Condition) ([]byte, error) {
	records := make([]conditionRecord, 0, len(conds))
	for _, c := range conds {
		switch v := c.(type) {
		case PriceNear:
			records = append(records, conditionRecord{Kind: kindPriceNear, Target: v.Target, Tolerance: v.Tolerance})
		case StructureBreak:
			records = append(records, conditionRecord{Kind: kindStructure, Signal: string(v.Kind), Timeframe: v.Timeframe})
		case OrderFlowSignal:
			records = append(records, conditionRecord{Kind: kindOrderFlow, Signal: string(v.Kind)})
		default:
			return nil, fmt.Errorf("unknown condition type %T", c)
		}
	}
	return json.Marshal(records)
}

// UnmarshalConditions decodes a persisted condition set
func UnmarshalConditions(data []byte) ([]Condition, error) {
	var records []conditionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	conds := make([]Condition, 0, len(records))
	for _, r := range records {
		switch r.Kind {
		case kindPriceNear:
			conds = append(conds, PriceNear{Target: r.Target, Tolerance: r.Tolerance})
		case kindStructure:
			conds = append(conds, StructureBreak{Kind: StructureKind(r.Signal), Timeframe: r.Timeframe})
		case kindOrderFlow:
			conds = append(conds, OrderFlowSignal{Kind: FlowKind(r.Signal)})
		default:
			return nil, fmt.Errorf("unknown condition kind %q", r.Kind)
		}
	}
	return conds, nil
}
