package workflow

// StubRandomSeed replaces the seed generator until the returned func is called.
func StubRandomSeed(seed int64) (restore func()) {
	prev := randomSeed
	randomSeed = func() int64 { return seed }
	return func() { randomSeed = prev }
}
