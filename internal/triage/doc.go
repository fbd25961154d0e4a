// Package triage is the business boundary of the grievance pipeline.
// Engine is the pure part (classify, pick a category, assign urgency, route);
// Service drives one submission end to end through the Store and Notifier
// ports and serves the listing and status operations built on the same Store.
package triage
