// Package usage enforces per-tier limits on metered AI operations.
//
// A Gate keeps one usage snapshot per process, fetched from the backend's
// usage endpoint and trusted for a short TTL. CheckUsage turns the snapshot
// into a Decision for one operation:
//
//	d := gate.CheckUsage(ctx, usage.OpExtraction)
//	if !d.Allowed {
//		return d.Message // names the limit, the reset date and an upgrade link
//	}
//
// Limits per tier:
//
//	FREE  3 extractions/week, 3 conversions/week, 10 scorings/month
//	PRO   unlimited extractions and conversions, 300 scorings/month
//
// Weekly windows reset Monday 00:00 UTC, monthly windows on the first of the
// month. When the backend cannot be reached the Gate decides against FREE
// limits with zero usage; fetch errors never reach the caller.
package usage
