package models

const (
	// DefaultSweepBatchSize bounds how many bookings one sweeper transaction locks.
	DefaultSweepBatchSize = 500

	// DefaultSweepLookbackDays limits the sweeper scan window; 0 means unbounded.
	DefaultSweepLookbackDays = 90

	// SweepSampleSize is how many candidates a dry run reports.
	SweepSampleSize = 10

	// RateLimitMessages is how many messages a sender may post per window.
	RateLimitMessages = 20

	// RateLimitWindow is the message rate-limit window.
	RateLimitWindow = 60 // seconds

	// PropertiesCacheTTL is how long the in-memory catalog cache stays fresh.
	PropertiesCacheTTL = 30 * 60 // seconds

	// DefaultListLimit caps list endpoints when no limit is given.
	DefaultListLimit = 100
)
