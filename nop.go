package largedata

// NewNopHandler returns the handler used when large-data tracking is
// disabled. Its thresholds are math.MaxUint64, so nothing ever crosses them
// and its recorder is never reached. It is started on construction; owners
// need not start it, but should still stop it on shutdown.
func NewNopHandler(optFns ...Option) *Handler {
	cfg := Config{Thresholds: MaxThresholds()}
	h, err := New(cfg, NopRecorder{}, optFns...)
	if err != nil {
		// The zero limiter settings always validate.
		panic(err)
	}
	h.Start()
	return h
}
