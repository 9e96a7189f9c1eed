package web3

import (
	"context"
	"encoding/json"
	"strings"

	xerrors "OpenMCP-Sui/internal/errors"
)

// stakePoolFields mirrors the StakePool Move struct. Numbers arrive as
// strings; balance may also be rendered as a nested Balance struct.
type stakePoolFields struct {
	Balance json.RawMessage `json:"balance"`
	Stakes  struct {
		Fields struct {
			ID struct {
				ID string `json:"id"`
			} `json:"id"`
		} `json:"fields"`
	} `json:"stakes"`
}

type stakeEntryFields struct {
	Value json.RawMessage `json:"value"`
}

// ReadStake reads the pool total and account's stake. An account without a
// stakes table entry has staked zero.
func ReadStake(ctx context.Context, r Reader, poolID, account string) (*StakeInfo, error) {
	obj, err := r.ObjectContents(ctx, poolID)
	if err != nil {
		return nil, err
	}
	var pool stakePoolFields
	if err := obj.Decode(&pool); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, "解析质押池对象失败",
			xerrors.WithMetadata("pool_id", poolID))
	}

	info := &StakeInfo{PoolID: poolID, TotalStaked: moveNumber(pool.Balance), UserStaked: "0"}

	tableID := pool.Stakes.Fields.ID.ID
	if tableID == "" || account == "" {
		return info, nil
	}
	entry, err := r.DynamicFieldObject(ctx, tableID, DynamicFieldName{Type: "address", Value: account})
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeNotFound) {
			return info, nil
		}
		return nil, err
	}
	var fields stakeEntryFields
	if err := entry.Decode(&fields); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, "解析质押记录失败",
			xerrors.WithMetadata("pool_id", poolID), xerrors.WithMetadata("account", account))
	}
	info.UserStaked = moveNumber(fields.Value)
	return info, nil
}

// moveNumber reads a u64 rendered as "123", 123, or {"fields":{"value":"123"}}.
func moveNumber(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "0"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return orZero(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return orZero(n.String())
	}
	var nested struct {
		Fields struct {
			Value json.RawMessage `json:"value"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested.Fields.Value) > 0 {
		return moveNumber(nested.Fields.Value)
	}
	return "0"
}

func orZero(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "0"
	}
	return s
}
