// Package config holds the tunables that drive the transfer engine.
//
// Kept as plain package-level vars rather than a config-file loader,
// matching the style of client/internal/config and server/internal/config
// in the original kairos tree.
package config

import "time"

var (
	// RAIDPARTS is the number of connections a RAID-layout DirectReadSlot
	// multiplexes over; 5 of them carry data and 1 carries parity.
	RAIDPARTS = 6
	// RAIDDATAPARTS is the number of parts that carry real file bytes.
	RAIDDATAPARTS = 5
	// RAIDSECTOR is the stripe unit: RAID submissions must be a multiple
	// of this size except for the final short tail of a part.
	RAIDSECTOR = 16

	// STEP is the priority increment TransferList uses when appending or
	// prepending a transfer.
	STEP int64 = 0x10000000000000

	// LARGEFILE is the size threshold (bytes, exclusive) above which a
	// transfer is bucketed as LARGE rather than SMALL by nexttransfers.
	LARGEFILE int64 = 131072

	// MAX_DELIVERY_CHUNK bounds the size of one piece handed to a
	// consumer's onData callback in a single call.
	MAX_DELIVERY_CHUNK = 1024 * 1024

	// MIN_CHUNK_DIVISIBLE_SIZE is the floor DoIO's adaptive chunk-sizing
	// clamps a connection's target submit size to — 16 KB, or the
	// connection's own minimum rate if that's smaller.
	MIN_CHUNK_DIVISIBLE_SIZE int64 = 16 * 1024

	// MeanSpeedIntervalDs is the watchdog sampling interval, in
	// deciseconds, used by watchOverDirectReadPerformance.
	MeanSpeedIntervalDs int64 = 100

	// MinBytesPerSecond is the engine-wide default minimum aggregate
	// throughput used when the client hasn't configured one explicitly.
	MinBytesPerSecond = 1024 * 30

	// SlowestToFastestThroughputRatio is the hysteresis tuple used by
	// searchAndDisconnectSlowestConnection: a connection is considered
	// divergently slow when slowest*ratio[0] < fastest*ratio[1].
	SlowestToFastestThroughputRatio = [2]int64{4, 1}

	// MaxSimultaneousSlowRaidedConns bounds how many parts the watchdog
	// will tolerate being below-threshold before giving up and retrying
	// the whole transfer instead of spare-swapping.
	MaxSimultaneousSlowRaidedConns = 1

	// ConnectionSwitchesLimitResetTime is the window after which the
	// per-connection spare-swap budget resets.
	ConnectionSwitchesLimitResetTime = 10 * time.Minute

	// ConnSwitchesLimitDefault is the number of spare-swaps a connection
	// may be involved in per reset window before the slot gives up and
	// retries the whole transfer.
	ConnSwitchesLimitDefault = 4

	// TimeoutDs is the per-HTTP-request timeout, in deciseconds.
	TimeoutDs int64 = 600

	// TempURLTimeoutDs is how long a temporary URL may sit unused (GET:
	// no bytes received at all) before it is discarded and re-acquired.
	TempURLTimeoutDs int64 = 600

	// MaxPutFailures bounds the retry count for a PUT that keeps hitting
	// "storage server unavailable, empty tempurls".
	MaxPutFailures = 16

	// OverTransferQuotaBackoff is the wait the slot arms when an HTTP 509
	// ("over transfer quota") is observed mid-RAID-stream.
	OverTransferQuotaBackoff = 10 * time.Minute

	// RetryBackoffDs is the short arm used by Transfer.complete when a
	// FileDistributor placement hits a transient error.
	RetryBackoffDs int64 = 11

	// AltDownloadPort is inserted into http:// temporary URLs when a node
	// is operating in alternate-port mode (adjustURLPort).
	AltDownloadPort = "8080"

	// StoreService labels internal/store's log lines, matching the
	// bracket-prefixed "[Service] - message" style used throughout.
	StoreService = "TransferStore"

	// TransferBucket is the BoltDB bucket persisted transfer records
	// are written into.
	TransferBucket = "transfers"
)

// Never is the BackoffTimer sentinel meaning "do not retry by time
// alone" — used for fatal-until-user-action conditions like EPAYWALL.
const Never time.Duration = -1
