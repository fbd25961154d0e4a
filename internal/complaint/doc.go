// Package complaint holds the shared vocabulary of the grievance pipeline:
// the closed category set, the per-category score distribution, urgency and
// status levels, the persisted Record, and the error taxonomy every stage
// reports through.
package complaint
