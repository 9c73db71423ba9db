package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ AuthStateStore  = (*MemoryAuthStateStore)(nil)
	_ TokenStore      = (*MemoryTokenStore)(nil)
	_ AccountLocker   = (*MemoryAccountLocker)(nil)
	_ MetricsRecorder = NopMetricsRecorder{}
	_ RandomSource    = CryptoRandomSource{}
	_ RandomSource    = (*SeededRandomSource)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
