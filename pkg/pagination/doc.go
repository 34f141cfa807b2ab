// Package pagination walks the API's page-numbered list endpoints.
//
// Paged endpoints take a page query parameter starting at 1 and wrap their
// records in an envelope:
//
//	{"list": [...], "hasNext": true}
//
// FetchAllPages requests pages strictly in order, appends every list entry to
// the result and stops at the first page whose hasNext is false. Failures never
// surface as errors: a page that cannot be fetched (including a 401 that one
// re-login does not heal) ends the walk and whatever was accumulated so far is
// returned.
//
// Example usage:
//
//	records := pagination.FetchAllPages(ctx, apiClient, func(page int) string {
//		return fmt.Sprintf("%s/invoices/v1/payments/payment-list?accountContract=%s&page=%d", base, ac, page)
//	})
package pagination
