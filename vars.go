package rdns

import (
	"expvar"
	"fmt"
)

// Get an *expvar.Int with the given path.
func getVarInt(base string, id string, name string) *expvar.Int {
	fullname := fmt.Sprintf("cachedns.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// Get an *expvar.Map with the given path.
func getVarMap(base string, id string, name string) *expvar.Map {
	fullname := fmt.Sprintf("cachedns.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Map)
	}
	return expvar.NewMap(fullname)
}

// Get an *expvar.String with the given path.
func getVarString(base string, id string, name string) *expvar.String {
	fullname := fmt.Sprintf("cachedns.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.String)
	}
	return expvar.NewString(fullname)
}

// ListenerMetrics holds the expvar counters shared by every listener and
// endpoint client: queries seen, responses sent by RCODE, errors by
// category, and drops (a nil response from the resolver chain).
type ListenerMetrics struct {
	query       *expvar.Int
	response    *expvar.Map
	err         *expvar.Map
	drop        *expvar.Int
	maxQueueLen *expvar.Int
}

// NewListenerMetrics returns a ListenerMetrics registered under
// cachedns.<base>.<id>.*
func NewListenerMetrics(base, id string) *ListenerMetrics {
	return &ListenerMetrics{
		query:       getVarInt(base, id, "query"),
		response:    getVarMap(base, id, "response"),
		err:         getVarMap(base, id, "error"),
		drop:        getVarInt(base, id, "drop"),
		maxQueueLen: getVarInt(base, id, "max_queue_len"),
	}
}
