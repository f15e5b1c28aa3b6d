package metrics

import "expvar"

var (
	SignalsDetected = expvar.NewInt("signals_detected")
	EntriesOpened   = expvar.NewInt("entries_opened")
	EntriesRejected = expvar.NewInt("entries_rejected")
	MakerFills      = expvar.NewInt("maker_fills")
	TakerFallbacks  = expvar.NewInt("taker_fallbacks")
	ExitsTotal      = expvar.NewInt("exits_total")
	ExitErrors      = expvar.NewInt("exit_errors")
	PollFailures    = expvar.NewInt("poll_failures")
	SnapshotSaves   = expvar.NewInt("snapshot_saves")
	SnapshotLoads   = expvar.NewInt("snapshot_loads")

	ExitsByReason = expvar.NewMap("exits_by_reason")
)
