package device

// ResetDefaultSession closes and forgets the process-wide session and its options.
func ResetDefaultSession() {
	if s := defaultSession.Swap(nil); s != nil {
		_ = s.Close()
	}
	defaultOptions.Store(nil)
}
