// Package domain contains the core entities of course generation: jobs,
// their decomposed tasks, classified error records and the retry
// strategies attached to them. It is independent of any storage or
// delivery mechanism.
package domain
