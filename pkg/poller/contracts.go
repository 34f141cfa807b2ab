package poller

import (
	"encoding/json"
)

type contractEntry struct {
	ContractDetails *struct {
		AccountContract string `json:"accountContract"`
	} `json:"contractDetails"`
	ContractID      string            `json:"contractId"`
	AccountContract string            `json:"accountContract"`
	SubContracts    []json.RawMessage `json:"subContracts"`
}

// accountContract picks the contract ID: contractDetails.accountContract
// when contractDetails is present, otherwise contractId, then accountContract.
func (c contractEntry) accountContract() string {
	if c.ContractDetails != nil {
		return c.ContractDetails.AccountContract
	}
	if c.ContractID != "" {
		return c.ContractID
	}
	return c.AccountContract
}

// contractList decodes the contracts payload, which is either a plain array
// or an object carrying the array under "list". Anything else is empty.
func contractList(raw json.RawMessage) []json.RawMessage {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var wrapped struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.List
	}

	return nil
}

// AccountContracts returns the account contracts to poll, in list order.
// A contract with subcontracts is replaced by its subcontracts; entries
// without an ID are skipped and repeated IDs are kept once.
func AccountContracts(raw json.RawMessage) []string {
	var expanded []contractEntry
	for _, item := range contractList(raw) {
		var entry contractEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			continue
		}

		if len(entry.SubContracts) == 0 {
			expanded = append(expanded, entry)
			continue
		}
		for _, subRaw := range entry.SubContracts {
			var sub contractEntry
			if err := json.Unmarshal(subRaw, &sub); err == nil {
				expanded = append(expanded, sub)
			}
		}
	}

	seen := make(map[string]bool, len(expanded))
	out := []string{}
	for _, entry := range expanded {
		ac := entry.accountContract()
		if ac == "" || seen[ac] {
			continue
		}
		seen[ac] = true
		out = append(out, ac)
	}
	return out
}
