package httpcore

import "github.com/appnexus/httpcore/internal/constants"

// Re-exported tunable defaults, kept in the public package so callers don't
// need to import internal/constants themselves.
const (
	DefaultBumpSize                  = constants.DefaultBumpSize
	DefaultPoolSize                  = constants.DefaultPoolSize
	DefaultReservationSize           = constants.DefaultReservationSize
	DefaultReservationAlign          = constants.DefaultReservationAlign
	DefaultTotalLargeAllocationLimit = constants.DefaultTotalLargeAllocationLimit
	DefaultMaxResponseSize           = constants.DefaultMaxResponseSize
	DefaultMaxTotalConnections       = constants.DefaultMaxTotalConnections
	DefaultMaxActiveConnections      = constants.DefaultMaxActiveConnections
	MaxIOThreads                     = constants.MaxIOThreads
	DefaultIOThreads                 = constants.DefaultIOThreads
	DefaultRTBRDelayTicks            = constants.DefaultRTBRDelayTicks
	DefaultHardPollPeriod            = constants.DefaultHardPollPeriod
	DefaultRequestTimeout            = constants.DefaultRequestTimeout
)
