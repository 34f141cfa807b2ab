package cache

import "strings"

// AccountScope is the contract segment used for account-wide resources
// (contract list, wallet, server date).
const AccountScope = "account"

// SnapshotKey identifies the snapshot of one resource of one contract.
type SnapshotKey struct {
	// AccountContract is the 12-digit contract ID. Empty for account-wide resources.
	AccountContract string

	// Resource is the resource name (e.g. "unpaid_invoices").
	Resource string
}

// String generates the Redis key.
// Format: eon:snapshot:<contract>:<resource>
//
// Example:
//
//	eon:snapshot:002100000001:meter_index
func (k SnapshotKey) String() string {
	return strings.Join([]string{"eon", "snapshot", k.scope(), k.Resource}, ":")
}

func (k SnapshotKey) scope() string {
	if k.AccountContract == "" {
		return AccountScope
	}
	return k.AccountContract
}

// ContractPattern returns the SCAN pattern matching every snapshot of a contract.
func ContractPattern(accountContract string) string {
	return SnapshotKey{AccountContract: accountContract, Resource: "*"}.String()
}
