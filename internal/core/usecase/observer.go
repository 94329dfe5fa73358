package usecase

// Observer receives pipeline events that are degradations rather than errors.
type Observer interface {
	KeywordFallback(added int)
	RerankDegraded()
	ModelFallback(requested, served string)
	NoContext()
}

type nopObserver struct{}

func (nopObserver) KeywordFallback(int)          {}
func (nopObserver) RerankDegraded()              {}
func (nopObserver) ModelFallback(string, string) {}
func (nopObserver) NoContext()                   {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
