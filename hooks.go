package mcroute

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The router calls them on hot paths.
type Hooks interface {
	// A leaf got an error reply from its transport.
	LeafError(backend string, op Op, res Result)

	// A failover node moved past child index after res.
	FailoverAttempt(index int, res Result)

	// A warm-up node finished re-storing a cold hit into warm.
	// res is the warm handle's reply to the re-store.
	WarmUpRestore(key string, res Result)

	// A new routing generation became current.
	ReloadApplied(gen uint64)

	// Loading or applying new routing content failed.
	// bootstrap is true for the synchronous first load.
	ReloadFailed(bootstrap bool, err error)

	// The last holder of a superseded generation released it.
	GenerationRetired(gen uint64)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) LeafError(string, Op, Result) {}
func (NopHooks) FailoverAttempt(int, Result)  {}
func (NopHooks) WarmUpRestore(string, Result) {}
func (NopHooks) ReloadApplied(uint64)         {}
func (NopHooks) ReloadFailed(bool, error)     {}
func (NopHooks) GenerationRetired(uint64)     {}

// Tee fans every event out to hs in order. nil entries are skipped.
func Tee(hs ...Hooks) Hooks {
	out := make(tee, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

type tee []Hooks

func (t tee) LeafError(b string, op Op, res Result) {
	for _, h := range t {
		h.LeafError(b, op, res)
	}
}

func (t tee) FailoverAttempt(i int, res Result) {
	for _, h := range t {
		h.FailoverAttempt(i, res)
	}
}

func (t tee) WarmUpRestore(k string, res Result) {
	for _, h := range t {
		h.WarmUpRestore(k, res)
	}
}

func (t tee) ReloadApplied(gen uint64) {
	for _, h := range t {
		h.ReloadApplied(gen)
	}
}

func (t tee) ReloadFailed(boot bool, err error) {
	for _, h := range t {
		h.ReloadFailed(boot, err)
	}
}

func (t tee) GenerationRetired(gen uint64) {
	for _, h := range t {
		h.GenerationRetired(gen)
	}
}
