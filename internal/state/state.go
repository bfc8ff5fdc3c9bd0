package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

type ActionType string

const (
	ActionNone ActionType = "none"
	ActionBuy  ActionType = "buy"
	ActionSell ActionType = "sell"
)

// StrategyState is the durable record surviving restarts. It is owned by the
// engine and rewritten after every state transition; the file is the sole
// source of truth on warm start.
type StrategyState struct {
	Holding            bool            `json:"holding"`
	AnchorPriceUSD     decimal.Decimal `json:"anchor_price_usd"`
	LastActionType     ActionType      `json:"last_action_type"`
	LastActionPriceUSD decimal.Decimal `json:"last_action_price_usd"`
	LastBuyNativeSpent decimal.Decimal `json:"last_buy_native_spent"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// File persists StrategyState with write-temp-then-rename so a crash mid-write
// leaves the previous valid state intact.
type File struct {
	path string
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &File{path: path}, nil
}

// Load returns (state, true, nil) when the file exists and parses, and
// (zero, false, nil) when it has never been written.
func (f *File) Load() (StrategyState, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return StrategyState{}, false, nil
		}
		return StrategyState{}, false, err
	}
	var st StrategyState
	if err := json.Unmarshal(data, &st); err != nil {
		return StrategyState{}, false, err
	}
	if st.LastActionType == "" {
		st.LastActionType = ActionNone
	}
	return st, true, nil
}

func (f *File) Save(st StrategyState) error {
	st.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (f *File) Path() string {
	return f.path
}
